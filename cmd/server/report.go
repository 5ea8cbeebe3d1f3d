package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/stats"
)

var (
	reportPeriod string
	reportGarage string
	reportOut    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a dispatch report as JSON or write it as PDF",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportPeriod, "period", "daily", "daily, weekly or monthly")
	reportCmd.Flags().StringVar(&reportGarage, "garage", "", "garage id; empty for the system report")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "output file; a .pdf extension renders PDF")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	period, err := stats.ParsePeriod(reportPeriod)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logging.New(cmd.ErrOrStderr(), cfg.Log.Level))
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.stats.Report(ctx, reportGarage, period)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		if strings.EqualFold(filepath.Ext(reportOut), ".pdf") {
			if err := stats.RenderPDF(f, rep); err != nil {
				return fmt.Errorf("render pdf: %w", err)
			}
			return f.Close()
		}
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
