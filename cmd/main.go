// Lead generator: collects prospect leads from search engines, company
// websites and LinkedIn, enriches their email addresses and serves the lead
// store over HTTP.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/logger"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	log *logger.Logger

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "leadgen",
	Short: "Lead generation toolkit",
	Long: `Finds prospects through public search engines, company websites and
LinkedIn, stores them in a JSON lead file, guesses and verifies their email
addresses and exports them as CSV or XLSX.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine, the environment may already be set.
		_ = godotenv.Load()

		c, err := config.LoadConfig(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if verbose {
			c.Logging.Level = "debug"
		}
		cfg = c

		l, err := logger.New(logger.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			OutputFile: cfg.Logging.OutputFile,
		})
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
