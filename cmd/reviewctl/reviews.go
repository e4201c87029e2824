package main

import (
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikolaj2268/review-radar/internal/coverage"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

var (
	rvFrom  string
	rvTo    string
	rvLimit int
	rvDays  int
)

func init() {
	for _, c := range []*cobra.Command{coverageCmd, reviewsCmd, analyzeCmd} {
		c.Flags().StringVar(&rvFrom, "from", "", "First day, YYYY-MM-DD")
		c.Flags().StringVar(&rvTo, "to", "", "Last day, YYYY-MM-DD (default today)")
		c.Flags().IntVar(&rvDays, "days", 30, "Window length when --from is not set")
	}
	reviewsCmd.Flags().IntVar(&rvLimit, "limit", 20, "Maximum number of reviews")
}

var coverageCmd = &cobra.Command{
	Use:   "coverage <app-name>",
	Short: "Show which days of a window are already stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := windowFlags(rvFrom, rvTo, rvDays, time.Now())
		if err != nil {
			return err
		}
		res, err := deps.Query.Coverage(ctxOrBackground(cmd), args[0], window)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, res)
		}
		fprintf(out, "%s %s: %d of %d days stored\n", args[0], window,
			coverage.TotalDays(res.Available), window.Days())
		for _, r := range res.Missing {
			fprintf(out, "  missing   %s (%d days)\n", r, r.Days())
		}
		for _, r := range res.Available {
			fprintf(out, "  available %s (%d days)\n", r, r.Days())
		}
		return nil
	},
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews <app-name>",
	Short: "List stored reviews, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := domain.ReviewFilter{Limit: rvLimit}
		if rvFrom != "" || rvTo != "" {
			window, err := windowFlags(rvFrom, rvTo, rvDays, time.Now())
			if err != nil {
				return err
			}
			from, to := window.Bounds()
			f.From, f.To = &from, &to
		}
		rs, err := deps.Query.ListReviews(ctxOrBackground(cmd), args[0], f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, rs)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fprintf(tw, "SUBMITTED\tSCORE\tAUTHOR\tCONTENT\n")
		for _, r := range rs {
			fprintf(tw, "%s\t%d\t%s\t%s\n", r.SubmittedAt.Format(time.DateTime), r.Score, r.AuthorName, clip(r.Content, 60))
		}
		return tw.Flush()
	},
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
