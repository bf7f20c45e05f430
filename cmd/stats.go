package main

import (
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	statsLimit int
	statsRun   string
)

type statsOutput struct {
	Today    *storage.DailyStats     `json:"today"`
	Runs     []*storage.ScrapeRun    `json:"runs"`
	Searches []*storage.SearchRecord `json:"searches"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's activity and recent scrape runs",
	Long: `Prints today's activity counters with the latest scrape runs and search
engine queries from the activity database. --run prints a single run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := storage.NewDatabase(cfg.Storage.DatabasePath, log)
		if err != nil {
			return eris.Wrap(err, "failed to open activity database")
		}
		defer db.Close()

		if statsRun != "" {
			run, err := db.GetRun(statsRun)
			if err != nil {
				return err
			}
			if run == nil {
				return eris.Errorf("scrape run %s not found", statsRun)
			}
			return printJSON(cmd.OutOrStdout(), run)
		}

		if statsLimit <= 0 {
			return eris.New("--limit must be positive")
		}
		out := statsOutput{}
		if out.Today, err = db.GetTodayStats(); err != nil {
			return err
		}
		if out.Runs, err = db.RecentRuns(statsLimit); err != nil {
			return err
		}
		if out.Searches, err = db.SearchHistory(statsLimit); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "number of runs and searches to list")
	statsCmd.Flags().StringVar(&statsRun, "run", "", "print the scrape run with this id")
	rootCmd.AddCommand(statsCmd)
}
