package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/roadside-dispatch/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "roadside",
	Short:        "Roadside garage dispatch service",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file (optional, ROADSIDE_* env overrides apply)")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
