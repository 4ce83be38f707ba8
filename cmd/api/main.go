// Package main is the entry point for the BRE rule editor API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"breeditor/api/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "bre-api",
	Short:         "BRE rule editor API server",
	Long:          "Serves the business rule editor: rule listing and edits, proof uploads and per-proof snapshots.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
