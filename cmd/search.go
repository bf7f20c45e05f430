package main

import (
	"encoding/json"
	"errors"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nikshitha/leadgen/api"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/scraper"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	searchLocation string
	searchCount    int
	searchValidate bool
	searchLinkedIn bool
	searchCompany  bool
	searchNoSave   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search for new leads and add them to the lead store",
	Long: `Searches for LinkedIn profiles matching the query and scrapes each one into
a lead. By default the public search engines are used; --linkedin searches
LinkedIn itself through a logged-in browser session.

With --company the query is a company name. Contacts are collected from the
company website, its LinkedIn members and public email directories.

Examples:
  leadgen search "head of growth" --location Berlin --count 20
  leadgen search cto --validate
  leadgen search "data engineer" --linkedin
  leadgen search "Acme Corp" --company --count 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return eris.New("search query is required")
		}
		if loc := strings.TrimSpace(searchLocation); loc != "" && !searchCompany {
			query += " " + loc
		}
		count := searchCount
		if count <= 0 {
			count = cfg.Search.DefaultResults
		}

		app, err := NewApplication(cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		var runner api.LeadRunner = app.runner
		switch {
		case searchCompany:
			runner = app.companies
		case searchLinkedIn:
			if err := interactiveLogin(ctx, app, "", cmd.ErrOrStderr()); err != nil {
				return err
			}
			runner = app.LinkedInRunner()
		}

		found, err := runner.Run(ctx, query, count)
		if errors.Is(err, scraper.ErrSearchUnavailable) {
			log.WithError(err).Warn("Every search engine failed")
		}
		if errors.Is(err, scraper.ErrNoResults) || errors.Is(err, scraper.ErrSearchUnavailable) || (err == nil && len(found) == 0) {
			return eris.Errorf("no profiles found for '%s', try different keywords", query)
		}
		if err != nil {
			return eris.Wrap(err, "search failed")
		}

		if searchValidate {
			enriched, _, err := app.enricher.EnrichAll(ctx, found)
			if err != nil {
				return err
			}
			for i := range found {
				found[i] = lead.MergeEnrichment(found[i], enriched[i])
			}
		}

		if !searchNoSave {
			found, err = app.leads.AppendAll(ctx, found)
			if err != nil {
				return err
			}
			app.recordStat(storage.StatLeadsSaved, len(found))
		}

		return printJSON(cmd.OutOrStdout(), found)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchLocation, "location", "", "location appended to the query")
	searchCmd.Flags().IntVar(&searchCount, "count", 0, "number of profiles to scrape (default from config)")
	searchCmd.Flags().BoolVar(&searchValidate, "validate", false, "guess and verify email addresses")
	searchCmd.Flags().BoolVar(&searchLinkedIn, "linkedin", false, "search LinkedIn through the browser session")
	searchCmd.Flags().BoolVar(&searchCompany, "company", false, "treat the query as a company name and collect its contacts")
	searchCmd.Flags().BoolVar(&searchNoSave, "no-save", false, "print results without storing them")
	searchCmd.MarkFlagsMutuallyExclusive("company", "linkedin")
	rootCmd.AddCommand(searchCmd)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
