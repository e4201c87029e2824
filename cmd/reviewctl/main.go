// Command reviewctl runs searches, syncs and analyses against the review
// store from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mikolaj2268/review-radar/internal/adapters/observability"
	"github.com/mikolaj2268/review-radar/internal/bootstrap"
	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/shared"
)

var (
	outputJSON bool
	storeFlag  string
	deps       *bootstrap.Deps
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reviewctl",
	Short: "Collect and analyse app store reviews",
	Long: `reviewctl syncs user reviews of an app into the configured store and
summarises them. Settings come from the environment or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg := shared.Load()
		if storeFlag != "" {
			cfg.StoreDriver = storeFlag
		}
		// stdout carries command output
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		observability.SetLevel(cfg.LogLevel)

		d, err := bootstrap.Build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		deps = d
		return nil
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if deps == nil {
			return nil
		}
		return deps.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Override STORE_DRIVER (mysql, postgres, sqlite)")
	rootCmd.AddCommand(searchCmd, coverageCmd, syncCmd, reviewsCmd, analyzeCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// windowFlags parses --from/--to. Missing --to is today, missing --from is
// defaultDays before --to.
func windowFlags(from, to string, defaultDays int, now time.Time) (domain.DateRange, error) {
	end := domain.DateOf(now)
	if to != "" {
		d, err := domain.ParseDate(to)
		if err != nil {
			return domain.DateRange{}, err
		}
		end = d
	}
	start := end.AddDays(-defaultDays)
	if from != "" {
		d, err := domain.ParseDate(from)
		if err != nil {
			return domain.DateRange{}, err
		}
		start = d
	}
	return domain.NewDateRange(start, end)
}

func ctxOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }
