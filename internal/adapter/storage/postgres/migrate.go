package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"fund-gateway/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded SQL migrations with golang-migrate. Files
// are named {version}_{name}.up.sql; progress is kept in schema_migrations.
type Migrator struct {
	m   *migrate.Migrate
	log zerolog.Logger
}

// NewMigrator opens its own connection to the database described by cfg.
// Close releases it.
func NewMigrator(cfg config.DatabaseConfig, log zerolog.Logger) (*Migrator, error) {
	src, err := iofs.New(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	dbURL, err := migrateURL(cfg.DSN())
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open migration target: %w", err)
	}
	m.Log = migrateLogger{log: log}

	return &Migrator{m: m, log: log}, nil
}

// Up applies all pending migrations and returns the filenames it applied.
// Cancelling ctx stops after the migration in progress.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	before, err := m.version()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.m.GracefulStop <- true
		case <-done:
		}
	}()

	upErr := m.m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return nil, fmt.Errorf("apply migrations: %w", upErr)
	}

	after, err := m.version()
	if err != nil {
		return nil, err
	}

	applied, err := migrationsBetween(before, after)
	if err != nil {
		return nil, err
	}
	for _, f := range applied {
		m.log.Info().Str("migration", f).Msg("applied migration")
	}
	return applied, nil
}

// Close releases the migration source and database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// version returns the applied schema version, 0 for an empty database.
func (m *Migrator) version() (uint, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("schema is dirty at version %d: repair it and force the version", v)
	}
	return v, nil
}

// migrationsBetween lists the embedded files with from < version <= to.
func migrationsBetween(from, to uint) ([]string, error) {
	files, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	var out []string
	for _, path := range files {
		name := strings.TrimPrefix(path, migrationsDir+"/")
		v, err := strconv.ParseUint(migrationVersion(name), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", name, err)
		}
		if uint(v) > from && uint(v) <= to {
			out = append(out, name)
		}
	}
	return out, nil
}

// migrationVersion returns the numeric prefix of a migration filename,
// e.g. "000001_create_transactions.up.sql" -> "000001".
func migrationVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}

// migrateURL rewrites a postgres:// DSN to the pgx5:// scheme the
// golang-migrate pgx driver registers.
func migrateURL(dsn string) (string, error) {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
		}
	}
	return "", errors.New("database url must use the postgres:// scheme")
}

// migrateLogger routes golang-migrate output into zerolog.
type migrateLogger struct {
	log zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), v...)
}

func (l migrateLogger) Verbose() bool {
	return l.log.GetLevel() <= zerolog.DebugLevel
}
