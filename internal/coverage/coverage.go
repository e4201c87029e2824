// Package coverage diffs a requested window of days against the days an app
// already has stored reviews for and groups the result into contiguous ranges.
//
// Everything here is pure: the store is queried once by the caller and the
// resulting day set is diffed in memory.
package coverage

import (
	"fmt"
	"slices"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// Result splits a window into days still to fetch and days already stored.
type Result struct {
	Missing   []domain.DateRange `json:"missing"`
	Available []domain.DateRange `json:"available"`
}

// Compute returns window − existing as Missing and existing ∩ window as
// Available, both coalesced into maximal ranges in chronological order.
func Compute(existing []domain.Date, start, end domain.Date) (Result, error) {
	if start.After(end) {
		return Result{}, fmt.Errorf("%w: start %s after end %s", domain.ErrInvalidRange, start, end)
	}

	have := make(map[domain.Date]struct{}, len(existing))
	for _, d := range existing {
		if !d.Before(start) && !d.After(end) {
			have[d] = struct{}{}
		}
	}

	var missing, available []domain.Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		if _, ok := have[d]; ok {
			available = append(available, d)
		} else {
			missing = append(missing, d)
		}
	}
	return Result{Missing: Coalesce(missing), Available: Coalesce(available)}, nil
}

// Coalesce groups days into maximal runs of consecutive days. The input is
// expected sorted; it is copied, sorted and de-duplicated regardless.
func Coalesce(dates []domain.Date) []domain.DateRange {
	if len(dates) == 0 {
		return nil
	}
	ds := slices.Clone(dates)
	slices.SortFunc(ds, domain.Date.Compare)
	ds = slices.Compact(ds)

	out := make([]domain.DateRange, 0, 4)
	cur := domain.DateRange{Start: ds[0], End: ds[0]}
	for _, d := range ds[1:] {
		if d == cur.End.AddDays(1) {
			cur.End = d
			continue
		}
		out = append(out, cur)
		cur = domain.DateRange{Start: d, End: d}
	}
	return append(out, cur)
}

// Expand flattens ranges into the days they cover, in input order.
func Expand(ranges []domain.DateRange) []domain.Date {
	n := 0
	for _, r := range ranges {
		if !r.Start.After(r.End) {
			n += r.Days()
		}
	}
	out := make([]domain.Date, 0, n)
	for _, r := range ranges {
		for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
			out = append(out, d)
		}
	}
	return out
}

// Without drops every day on or after from. Used to force a refetch of the
// most recent, possibly partial, stored days.
func Without(dates []domain.Date, from domain.Date) []domain.Date {
	out := make([]domain.Date, 0, len(dates))
	for _, d := range dates {
		if d.Before(from) {
			out = append(out, d)
		}
	}
	return out
}

// TotalDays sums the days covered by ranges.
func TotalDays(ranges []domain.DateRange) int {
	n := 0
	for _, r := range ranges {
		n += r.Days()
	}
	return n
}
