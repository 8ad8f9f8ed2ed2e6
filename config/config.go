package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string. An explicit URL wins over
// the individual fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	URL      string `mapstructure:"url"` // redis://[:password@]host:port/db
	PoolSize int    `mapstructure:"pool_size"`
}

type ChainConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	ContractAddress     string        `mapstructure:"contract_address"`
	PrivateKey          string        `mapstructure:"private_key"`
	ChainID             int64         `mapstructure:"chain_id"` // 0 = ask the node
	GasLimit            uint64        `mapstructure:"gas_limit"` // 0 = estimate
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	EventBuffer         int           `mapstructure:"event_buffer"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"` // cron spec, empty disables
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"` // empty disables operator auth
	Expiry    time.Duration `mapstructure:"expiry"`
	Issuer    string        `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type AlertConfig struct {
	WebhookURL  string `mapstructure:"webhook_url"`
	Secret      string `mapstructure:"secret"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// legacyEnv maps config keys to the bare environment names older
// deployments use. The FUND_ prefixed name is checked first.
var legacyEnv = map[string]string{
	"chain.rpc_url":          "RPC_URL",
	"chain.contract_address": "CONTRACT_ADDRESS",
	"chain.private_key":      "PRIVATE_KEY",
	"redis.url":              "REDIS_URL",
	"database.url":           "DATABASE_URL",
}

// Load reads configuration from file, environment variables and flags.
// Precedence: flags > env > file > defaults. Prefix: FUND_.
// Nested keys use underscore: FUND_CHAIN_RPC_URL, FUND_REDIS_URL, etc.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "fund_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.gas_limit", 0)
	v.SetDefault("chain.confirmation_timeout", "2m")
	v.SetDefault("chain.poll_interval", "4s")
	v.SetDefault("chain.event_buffer", 64)
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.refresh_schedule", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.expiry", "24h")
	v.SetDefault("auth.issuer", "fund-gateway")
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.secret", "")
	v.SetDefault("alert.max_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("FUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := "FUND_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding env %s: %w", key, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	// Config file is optional; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the service cannot start without.
// Every problem is reported, not only the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url (RPC_URL) is required"))
	}
	switch {
	case c.Chain.ContractAddress == "":
		errs = append(errs, errors.New("chain.contract_address (CONTRACT_ADDRESS) is required"))
	case !common.IsHexAddress(c.Chain.ContractAddress):
		errs = append(errs, fmt.Errorf("chain.contract_address %q is not a hex address", c.Chain.ContractAddress))
	}
	if c.Chain.PrivateKey == "" {
		errs = append(errs, errors.New("chain.private_key (PRIVATE_KEY) is required"))
	}
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url (REDIS_URL) is required"))
	}
	if c.Chain.ConfirmationTimeout <= 0 {
		errs = append(errs, errors.New("chain.confirmation_timeout must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	return errors.Join(errs...)
}
