package main

import (
	"fmt"
	"os"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pergola",
	Short: "Pergola runs checkpointed state graphs with human review",
	Long: `Pergola compiles graph definitions (YAML or JSON) and runs them step by step,
checkpointing after every node so runs can be suspended, inspected, patched
and resumed later.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "pergola.yaml", "Configuration file (YAML or JSON); missing file means defaults")
	rootCmd.PersistentFlags().String("store", "", "Checkpoint store driver: memory, file, redis or sqlite")
	rootCmd.PersistentFlags().String("store-path", "", "Directory of the file store")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("tools", "", "Tools file allow-listing commands for the exec handler")
}

// loadConfig reads the config file and applies the persistent flag overrides.
// The log level flag wins only when set, unless quiet is true, in which case
// its default applies too.
func loadConfig(cmd *cobra.Command, quiet bool) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Driver = v
	}
	if v, _ := cmd.Flags().GetString("store-path"); v != "" {
		cfg.Store.Path = v
	}
	if v, _ := cmd.Flags().GetString("tools"); v != "" {
		cfg.Tools = v
	}
	if quiet || cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, cfg.Validate()
}

// openEnv loads the configuration and opens the store. reg may be nil.
func openEnv(cmd *cobra.Command, quiet bool, reg prometheus.Registerer) (*cli.Env, error) {
	cfg, err := loadConfig(cmd, quiet)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return cli.Setup(cfg, logging.NewTo(cmd.ErrOrStderr(), level, cfg.LogFormat), reg)
}
