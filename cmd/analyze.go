package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <listing-url>",
	Short: "Scrape a listing and run all analyses in one shot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		listing, err := env.Scrape.Submit(ctx, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("listing scraped", zap.String("id", listing.ID))

		record, err := env.Analysis.RunAll(ctx, listing.ID)
		if err != nil {
			return err
		}

		out := struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Analysis any    `json:"analysis"`
		}{ID: listing.ID, URL: listing.URL, Analysis: record}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
