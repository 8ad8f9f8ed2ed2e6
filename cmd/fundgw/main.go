package main

import (
	"fmt"
	"os"

	"fund-gateway/config"
	"fund-gateway/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "fundgw",
		Short:        "Fund gateway: on-chain investments and redemptions with an append-only ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log.level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log.pretty", false, "human-readable log output")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chain event listener and metrics refresher",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("server.port", 8080, "HTTP listen port")
	serveCmd.Flags().String("chain.rpc_url", "", "JSON-RPC endpoint (http, ws or ipc)")
	serveCmd.Flags().String("cache.refresh_schedule", "", "cron spec for periodic metrics refresh, e.g. @every 45s")
	serveCmd.Flags().Bool("skip-migrate", false, "do not apply ledger migrations on startup")
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending ledger schema migrations",
		RunE:  runMigrate,
	}
	root.AddCommand(migrateCmd)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator JWT for the write endpoints",
		RunE:  runToken,
	}
	tokenCmd.Flags().String("operator", "", "operator name placed in the token subject")
	_ = tokenCmd.MarkFlagRequired("operator")
	root.AddCommand(tokenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config and binds every
// dotted flag of cmd into the matching config key.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
