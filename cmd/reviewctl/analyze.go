package main

import (
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikolaj2268/review-radar/internal/analysis"
	"github.com/mikolaj2268/review-radar/internal/app"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

var (
	anModel    string
	anParallel int
)

func init() {
	analyzeCmd.Flags().StringVar(&anModel, "model", "", "Sentiment model: lexicon, compound or llm (default SENTIMENT_MODEL)")
	analyzeCmd.Flags().IntVar(&anParallel, "parallel", 4, "Texts labelled concurrently")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <app-name>",
	Short: "Summarise review sentiment over a window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := ctxOrBackground(cmd)
		window, err := windowFlags(rvFrom, rvTo, rvDays, time.Now())
		if err != nil {
			return err
		}
		model := anModel
		if model == "" {
			model = deps.Config.SentimentModel
		}
		scorer, err := analysis.ScorerFor(model, deps.LLM)
		if err != nil {
			return err
		}

		from, to := window.Bounds()
		rows, err := deps.Query.ListReviews(ctx, args[0], domain.ReviewFilter{From: &from, To: &to, Limit: app.MaxReviewLimit})
		if err != nil {
			return err
		}
		sum, err := analysis.Summarize(ctx, analysis.Preprocess(rows), scorer, anParallel)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, sum)
		}
		fprintf(out, "%s %s model=%s reviews=%d avg_score=%.2f\n", args[0], window, sum.Model, sum.Total, sum.AverageScore)
		labels := make([]string, 0, len(sum.Counts))
		for l := range sum.Counts {
			labels = append(labels, string(l))
		}
		sort.Strings(labels)
		for _, l := range labels {
			fprintf(out, "  %-9s %5d  %5.1f%%\n", l, sum.Counts[analysis.Label(l)], 100*sum.Shares[analysis.Label(l)])
		}
		return nil
	},
}
