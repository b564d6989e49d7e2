// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the papersort CLI. It classifies
// Paperless-ngx documents with a chat-completion model and writes the
// results back as tags, types, correspondents, storage paths, and dates.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/papersort/internal/config"
	"github.com/pdiddy/papersort/internal/logging"
	"github.com/pdiddy/papersort/internal/state"
	"github.com/pdiddy/papersort/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// secretsDir holds API tokens outside the config file.
const secretsDir = ".secrets/"

// rootCmd is the base command for the papersort CLI.
var rootCmd = &cobra.Command{
	Use:   "papersort",
	Short: "AI document classification for Paperless-ngx",
	Long: `papersort scans a Paperless-ngx instance, classifies documents with an
OpenAI-compatible model, and writes the results back: document type,
correspondent, storage path, tags, and document date.

Each operation is a subcommand: run executes one classification pass,
metrics reports token and cost totals, and quarantine manages documents
that repeatedly fail.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./papersort.yaml or ~/.config/papersort/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("papersort")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "papersort"))
		}
	}

	viper.SetEnvPrefix("PAPERSORT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig merges file, environment, and secrets into a validated config.
func loadConfig() (types.Config, error) {
	return config.Load(viper.GetViper(), secretsDir)
}

// newLogger builds the process logger from the config.
func newLogger(cfg types.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

// openState opens the configured state backend.
func openState(cfg types.Config, log *slog.Logger) (state.Store, error) {
	return state.Open(&cfg, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
