package app

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

/********** alias registries (single source of truth) **********/

var reviewAliases = map[string][]string{
	"id":           {"reviewId", "review_id", "id"},
	"author":       {"userName", "authorName", "author_name", "author", "author.name"},
	"author_image": {"userImage", "authorImageUrl", "author_image_url", "author.image"},
	"content":      {"content", "text", "body", "review"},
	"score":        {"score", "rating", "stars"},
	"thumbs":       {"thumbsUpCount", "thumbs_up_count", "thumbsUp", "likes"},
	"version_at":   {"reviewCreatedVersion", "appVersionAtReview", "app_version_at_review"},
	"submitted":    {"at", "submittedAt", "submitted_at", "date", "timestamp"},
	"reply":        {"replyContent", "reply_content", "reply.text", "developerReply.text"},
	"replied":      {"repliedAt", "replied_at", "reply.at", "developerReply.at"},
	"version":      {"appVersion", "app_version", "version"},
}

var searchAliases = map[string][]string{
	"title": {"title", "name"},
	"app":   {"appId", "app_id", "id", "packageName"},
	"icon":  {"icon", "iconUrl", "icon_url"},
}

// timeLayouts lists the string timestamp forms seen on the wire.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns the string at path or "". Numeric ids are formatted.
func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, aliases map[string][]string, key string) *string {
	for _, p := range aliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return &s
		}
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// firstIntFlexible: int from several paths (float64/int/string like "4").
func firstIntFlexible(m map[string]any, paths ...string) *int {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			x := int(v)
			return &x
		case int:
			x := v
			return &x
		case int64:
			x := int(v)
			return &x
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				x := int(f)
				return &x
			}
		}
	}
	return nil
}

// firstTimeFlexible: timestamp from several paths. Strings use timeLayouts
// or a bare unix number; numbers above 1e12 are taken as milliseconds.
func firstTimeFlexible(m map[string]any, paths ...string) *time.Time {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			if t, ok := unixFlexible(v); ok {
				return &t
			}
		case int64:
			if t, ok := unixFlexible(float64(v)); ok {
				return &t
			}
		case string:
			if t, ok := parseTimeString(v); ok {
				return &t
			}
		}
	}
	return nil
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixFlexible(f)
	}
	return time.Time{}, false
}

func unixFlexible(v float64) (time.Time, bool) {
	if v <= 0 {
		return time.Time{}, false
	}
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Unix(int64(v), 0).UTC(), true
}

/********** review mapper **********/

func mapReview(r map[string]any) domain.RawReview {
	var rv domain.RawReview

	rv.AuthorName = deref(firstNonEmptyAlias(r, reviewAliases, "author"))
	rv.AuthorImageURL = firstNonEmptyAlias(r, reviewAliases, "author_image")
	// content is never nil; missing text maps to ""
	rv.Content = deref(firstNonEmptyAlias(r, reviewAliases, "content"))
	if n := firstIntFlexible(r, reviewAliases["score"]...); n != nil {
		rv.Score = *n
	}
	if n := firstIntFlexible(r, reviewAliases["thumbs"]...); n != nil {
		rv.ThumbsUpCount = *n
	}
	rv.AppVersionAtReview = firstNonEmptyAlias(r, reviewAliases, "version_at")
	rv.SubmittedAt = firstTimeFlexible(r, reviewAliases["submitted"]...)
	rv.ReplyContent = firstNonEmptyAlias(r, reviewAliases, "reply")
	rv.RepliedAt = firstTimeFlexible(r, reviewAliases["replied"]...)
	rv.AppVersion = firstNonEmptyAlias(r, reviewAliases, "version")

	// ReviewID → prefer explicit; else synthesize stable hash.
	if s := firstNonEmptyAlias(r, reviewAliases, "id"); s != nil {
		rv.ReviewID = *s
	} else if rv.SubmittedAt != nil {
		sig := strings.Join([]string{
			rv.AuthorName,
			rv.Content,
			strconv.Itoa(rv.Score),
			rv.SubmittedAt.Format(time.RFC3339Nano),
		}, "|")
		sum := sha1.Sum([]byte(sig))
		rv.ReviewID = "sha1:" + hex.EncodeToString(sum[:])
		log.Debug().Str("context", "mapReview").Str("review_id", rv.ReviewID).Msg("synthesized review id")
	}
	return rv
}

func mapReviews(in []map[string]any) []domain.RawReview {
	out := make([]domain.RawReview, 0, len(in))
	for _, r := range in {
		out = append(out, mapReview(r))
	}
	return out
}

/********** search mapper **********/

func mapCandidates(in []map[string]any, maxHits int) []domain.AppCandidate {
	out := make([]domain.AppCandidate, 0, min(len(in), maxHits))
	for _, h := range in {
		if len(out) == maxHits {
			break
		}
		id := deref(firstNonEmptyAlias(h, searchAliases, "app"))
		if id == "" {
			continue
		}
		out = append(out, domain.AppCandidate{
			Title:   deref(firstNonEmptyAlias(h, searchAliases, "title")),
			AppID:   id,
			IconURL: deref(firstNonEmptyAlias(h, searchAliases, "icon")),
		})
	}
	return out
}
