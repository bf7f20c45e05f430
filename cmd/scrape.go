package main

import (
	"os/signal"
	"syscall"

	"github.com/nikshitha/leadgen/lead"
	"github.com/spf13/cobra"
)

var scrapeSave bool

var scrapeWebsiteCmd = &cobra.Command{
	Use:   "scrape-website <url>",
	Short: "Extract a lead from a company or personal web page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		profile, err := app.website.Scrape(ctx, args[0])
		if err != nil {
			return err
		}
		if scrapeSave {
			profile, err = app.leads.Merge(ctx, profile, lead.FillEmpty)
			if err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), profile)
	},
}

func init() {
	scrapeWebsiteCmd.Flags().BoolVar(&scrapeSave, "save", false, "store the lead, filling empty fields of an existing one")
	rootCmd.AddCommand(scrapeWebsiteCmd)
}
