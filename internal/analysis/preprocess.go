// Package analysis turns stored reviews into analysis-ready rows and
// sentiment summaries. It never writes back to the store.
package analysis

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

const MaxContentLength = 500

// Prepared is a review after cleaning.
type Prepared struct {
	domain.ReviewRecord
	Date          domain.Date `json:"date"`
	CleanContent  string      `json:"clean_content"`
	ContentLength int         `json:"content_length"`
}

// Preprocess drops duplicate ids, scores outside 1..5 and over-long
// content, then normalises what is left. Output is ordered oldest first and
// missing app versions carry the last known version forward.
func Preprocess(rs []domain.ReviewRecord) []Prepared {
	seen := make(map[string]struct{}, len(rs))
	out := make([]Prepared, 0, len(rs))
	for _, r := range rs {
		if _, dup := seen[r.ReviewID]; dup {
			continue
		}
		seen[r.ReviewID] = struct{}{}

		if r.Score < 1 || r.Score > 5 {
			continue
		}
		if utf8.RuneCountInString(r.Content) > MaxContentLength {
			continue
		}
		if r.SubmittedAt.IsZero() {
			continue
		}
		if r.ThumbsUpCount < 0 {
			r.ThumbsUpCount = 0
		}
		clean := Normalize(r.Content)
		out = append(out, Prepared{
			ReviewRecord:  r,
			Date:          domain.DateOf(r.SubmittedAt),
			CleanContent:  clean,
			ContentLength: utf8.RuneCountInString(clean),
		})
	}

	slices.SortStableFunc(out, func(a, b Prepared) int { return a.SubmittedAt.Compare(b.SubmittedAt) })

	var last *string
	for i := range out {
		if v := out[i].AppVersion; v != nil && *v != "" {
			last = v
			continue
		}
		out[i].AppVersion = last
	}
	return out
}

// Normalize lowercases s and strips everything but letters, digits,
// underscores and whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
