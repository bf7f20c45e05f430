package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nikshitha/leadgen/export"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Guess and verify email addresses for every stored lead",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()
		app.pingRedis(ctx)

		snapshot := app.leads.List(ctx)
		enriched, stats, err := app.enricher.EnrichAll(ctx, snapshot)
		if err != nil {
			return err
		}
		n, err := app.leads.ApplyEnrichment(ctx, snapshot, enriched)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Enriched %d of %d leads (%d failed), %d updated\n",
			stats.Enriched, stats.Total, stats.Failed, n)
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize every stored lead",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.leads.NormalizeAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Normalized %d leads\n", n)
		return nil
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Remove duplicate leads by email, then by source URL",
	Long: `Collapses leads sharing an email address (the last one wins), then leads
without an email sharing a source URL (the first one wins), and renumbers ids.
Leads with neither an email nor a source URL are dropped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.leads.DedupeAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d leads remain\n", n)
		return nil
	},
}

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored leads as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		leads := app.leads.List(cmd.Context())
		if len(leads) == 0 {
			return export.ErrNoLeads
		}

		path := exportOutput
		if path == "" {
			path = cfg.Leads.CSVExportName
			if format == export.FormatXLSX {
				path = cfg.Leads.XLSXExportName
			}
		}
		if err := export.WriteFile(path, format, leads); err != nil {
			return eris.Wrapf(err, "export to %s", path)
		}
		app.recordStat(storage.StatExports, 1)

		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d leads to %s\n", len(leads), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default from config)")

	rootCmd.AddCommand(enrichCmd, normalizeCmd, dedupeCmd, exportCmd)
}
