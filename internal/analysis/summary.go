package analysis

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// DayCount is the label breakdown of one calendar day.
type DayCount struct {
	Date   domain.Date   `json:"date"`
	Counts map[Label]int `json:"counts"`
}

type Summary struct {
	Model        string            `json:"model"`
	Total        int               `json:"total"`
	Counts       map[Label]int     `json:"counts"`
	Shares       map[Label]float64 `json:"shares"`
	AverageScore float64           `json:"average_score"`
	Daily        []DayCount        `json:"daily"`
}

// Summarize labels every prepared review with s, at most parallel texts at
// a time. A failed label counts as Error; only ctx cancellation aborts.
func Summarize(ctx context.Context, rows []Prepared, s Scorer, parallel int) (Summary, error) {
	labels := make([]Label, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := s.Label(gctx, rows[i].Content)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Debug().Err(err).Str("review_id", rows[i].ReviewID).Msg("sentiment label failed")
				l = LabelError
			}
			labels[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	sum := Summary{
		Model:  s.Name(),
		Total:  len(rows),
		Counts: map[Label]int{},
		Shares: map[Label]float64{},
	}
	byDay := map[domain.Date]map[Label]int{}
	scoreSum := 0
	for i, r := range rows {
		l := labels[i]
		sum.Counts[l]++
		scoreSum += r.Score
		if byDay[r.Date] == nil {
			byDay[r.Date] = map[Label]int{}
		}
		byDay[r.Date][l]++
	}
	if sum.Total > 0 {
		sum.AverageScore = float64(scoreSum) / float64(sum.Total)
		for l, n := range sum.Counts {
			sum.Shares[l] = float64(n) / float64(sum.Total)
		}
	}
	for d, c := range byDay {
		sum.Daily = append(sum.Daily, DayCount{Date: d, Counts: c})
	}
	slices.SortFunc(sum.Daily, func(a, b DayCount) int { return a.Date.Compare(b.Date) })
	return sum, nil
}
