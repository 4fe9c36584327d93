package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/pointledger/internal/pointapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	flagShutdownTimeout = "shutdown-timeout"
	flagRequestTimeout  = "request-timeout"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pointd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := pointapi.Config{}
	cmd := &cobra.Command{
		Use:           "pointd",
		Short:         "User point ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return pointapi.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, "", "storage URL: memory://, sqlite://path, postgres://..., pgx://... or bolt://path")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Duration(flagShutdownTimeout, 0, "graceful shutdown timeout (e.g. 5s)")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request timeout for point routes (e.g. 10s)")

	return cmd
}

// loadConfig resolves flags first, then the unprefixed environment names.
func loadConfig(cmd *cobra.Command, cfg *pointapi.Config) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagDatabaseURL, flagListenAddr, flagAllowedOrigins, flagShutdownTimeout, flagRequestTimeout} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
		if err := v.BindEnv(flagName, strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.ListenAddr = v.GetString(flagListenAddr)
	cfg.AllowedOrigins = pointapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.ShutdownTimeout = v.GetDuration(flagShutdownTimeout)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("%s must not be negative", flagShutdownTimeout)
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("%s must not be negative", flagRequestTimeout)
	}
	return cfg.Validate()
}
