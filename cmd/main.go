// Command knowledge-api serves PDF ingestion and semantic search over HTTP,
// with CLI helpers for local ingestion and querying.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"knowledge-api/internal/config"
	"knowledge-api/internal/helper"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "knowledge-api",
	Short:         "Document ingestion and semantic search service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		helper.SetupLogger(cfg.Debug)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./configs/config.yaml)")
	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, configCmd, exportCmd)
}

func main() {
	helper.SetupLogger(false)
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
