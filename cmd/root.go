// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// flagKeys maps command line flags onto configuration keys. Flags are only
// bound when the executing command defines them.
var flagKeys = map[string]string{
	"log-level":  "logger.level",
	"log-file":   "logger.log_file",
	"output-dir": "output.base_dir",
	"run-dir":    "output.dir",
	"headless":   "browser.headless",
	"page-count": "harvest.page_count",
	"max-pages":  "harvest.max_pages",
	"item-count": "harvest.item_count",
}

// NewRootCommand builds a fresh command tree backed by a real browser.
func NewRootCommand() *cobra.Command {
	return newRootCmd(browserProvider{})
}

func newRootCmd(provider viewProvider) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "harvest",
		Short:         "Harvest issues and saves payment receipts from a web account.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "harvest"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting receipt harvester", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Path of the rotated log file")
	rootCmd.PersistentFlags().String("output-dir", "", "Directory that receives the timestamped run directory")
	rootCmd.PersistentFlags().Bool("headless", false, "Run the browser without a window (ignored with manual login)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newRunCmd(provider))
	rootCmd.AddCommand(newDiscoverCmd(provider))
	rootCmd.AddCommand(newReportCmd())

	return rootCmd
}

// Execute runs the command line and logs any failure.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Command interrupted")
	} else {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file, HARVEST_* environment variables
// and any flags the user set, in increasing order of precedence.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// configFrom returns the configuration stored by PersistentPreRunE.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return cfg, nil
}
