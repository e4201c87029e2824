package app

import (
	"strings"
	"testing"
	"time"
)

func TestMapReview_Aliases(t *testing.T) {
	in := map[string]any{
		"reviewId":             "gp:abc",
		"userName":             "Ann",
		"userImage":            "https://img/ann.png",
		"content":              "Great app",
		"score":                float64(5),
		"thumbsUpCount":        float64(3),
		"reviewCreatedVersion": "1.2.3",
		"at":                   "2024-03-10T08:30:00Z",
		"replyContent":         "Thanks!",
		"repliedAt":            float64(1710066600),
		"appVersion":           "1.2.4",
	}
	rv := mapReview(in)

	if rv.ReviewID != "gp:abc" || rv.AuthorName != "Ann" || rv.Content != "Great app" {
		t.Fatalf("unexpected scalar fields: %+v", rv)
	}
	if rv.Score != 5 || rv.ThumbsUpCount != 3 {
		t.Fatalf("score/thumbs = %d/%d", rv.Score, rv.ThumbsUpCount)
	}
	if rv.SubmittedAt == nil || !rv.SubmittedAt.Equal(time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("submitted_at = %v", rv.SubmittedAt)
	}
	if rv.RepliedAt == nil || rv.RepliedAt.Unix() != 1710066600 {
		t.Fatalf("replied_at = %v", rv.RepliedAt)
	}
	if deref(rv.AppVersionAtReview) != "1.2.3" || deref(rv.AppVersion) != "1.2.4" || deref(rv.ReplyContent) != "Thanks!" {
		t.Fatalf("optional fields: %+v", rv)
	}
}

func TestMapReview_SnakeCaseAndMillis(t *testing.T) {
	rv := mapReview(map[string]any{
		"review_id":    "r1",
		"author":       "Bob",
		"text":         "meh",
		"rating":       "3",
		"submitted_at": float64(1710066600123),
	})
	if rv.ReviewID != "r1" || rv.AuthorName != "Bob" || rv.Content != "meh" || rv.Score != 3 {
		t.Fatalf("unexpected: %+v", rv)
	}
	if rv.SubmittedAt == nil || rv.SubmittedAt.UnixMilli() != 1710066600123 {
		t.Fatalf("submitted_at = %v", rv.SubmittedAt)
	}
}

func TestMapReview_UnresolvableTimestamp(t *testing.T) {
	rv := mapReview(map[string]any{"reviewId": "x", "at": "not a date"})
	if rv.SubmittedAt != nil {
		t.Fatalf("expected nil timestamp, got %v", rv.SubmittedAt)
	}
	if _, ok := rv.ToRecord("app", "us", "en"); ok {
		t.Fatal("record with unresolvable timestamp must not convert")
	}
}

func TestMapReview_SynthesizedIDIsStable(t *testing.T) {
	in := map[string]any{"userName": "Ann", "content": "ok", "score": float64(4), "at": "2024-01-01 10:00:00"}
	a, b := mapReview(in), mapReview(in)
	if a.ReviewID == "" || a.ReviewID != b.ReviewID || !strings.HasPrefix(a.ReviewID, "sha1:") {
		t.Fatalf("ids %q %q", a.ReviewID, b.ReviewID)
	}
}

func TestMapCandidates_CapsAndSkipsMissingIDs(t *testing.T) {
	in := []map[string]any{
		{"title": "No id"},
		{"title": "A", "appId": "com.a", "icon": "ia"},
		{"title": "B", "app_id": "com.b"},
		{"name": "C", "id": "com.c"},
	}
	got := mapCandidates(in, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].AppID != "com.a" || got[0].IconURL != "ia" || got[1].AppID != "com.b" {
		t.Fatalf("got %+v", got)
	}
}
