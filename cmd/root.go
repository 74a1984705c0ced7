package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	logLevel   string
	configFile string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "secantfit",
	Short: "Train small neural networks with quasi-Newton optimizers",
	Long: `secantfit trains a small fully connected network with line-search
gradient descent, BFGS, inverse BFGS or Barzilai-Borwein steps, and can run
jobs behind an HTTP API with checkpoints and loss traces.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(logLevel)
		return applyConfigFile(cmd, configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml) providing defaults for unset flags")
}

func setupLogger(name string) {
	var level slog.Level
	switch name {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// applyConfigFile reads path with viper and sets every flag of cmd that was
// not given on the command line and has a key of the same name in the file.
func applyConfigFile(cmd *cobra.Command, path string) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var firstErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}

		var value string
		if strings.HasSuffix(f.Value.Type(), "Slice") {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}

		if err := cmd.Flags().Set(f.Name, value); err != nil {
			firstErr = fmt.Errorf("config file %s: invalid value for %s: %w", path, f.Name, err)
		}
	})

	if firstErr == nil {
		slog.Debug("Applied config file", "path", v.ConfigFileUsed())
	}
	return firstErr
}
