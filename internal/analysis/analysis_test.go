package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

func rec(id string, score int, content string, at time.Time) domain.ReviewRecord {
	return domain.ReviewRecord{ReviewID: id, Score: score, Content: content, SubmittedAt: at}
}

func ver(s string) *string { return &s }

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestPreprocess_ScoreBoundary(t *testing.T) {
	in := []domain.ReviewRecord{
		rec("a", 0, "zero", t0),
		rec("b", 1, "one", t0),
		rec("c", 5, "five", t0),
		rec("d", 6, "six", t0),
	}
	out := Preprocess(in)

	ids := make([]string, 0, len(out))
	for _, p := range out {
		ids = append(ids, p.ReviewID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	assert.Equal(t, 0, in[0].Score, "input must stay untouched")
	assert.Len(t, in, 4)
}

func TestPreprocess_CleansAndFills(t *testing.T) {
	long := strings.Repeat("x", MaxContentLength+1)
	in := []domain.ReviewRecord{
		{ReviewID: "3", Score: 4, Content: "Later!", SubmittedAt: t0.Add(2 * time.Hour)},
		{ReviewID: "1", Score: 4, Content: "Great APP, loved it!!", SubmittedAt: t0, AppVersion: ver("1.0"), ThumbsUpCount: -3},
		{ReviewID: "1", Score: 4, Content: "dup", SubmittedAt: t0},
		{ReviewID: "2", Score: 2, Content: long, SubmittedAt: t0.Add(time.Hour)},
		{ReviewID: "4", Score: 3, Content: "", SubmittedAt: t0.Add(3 * time.Hour), AppVersion: ver("1.1")},
	}
	out := Preprocess(in)
	require.Len(t, out, 3)

	assert.Equal(t, "1", out[0].ReviewID)
	assert.Equal(t, "great app loved it", out[0].CleanContent)
	assert.Equal(t, len("great app loved it"), out[0].ContentLength)
	assert.Equal(t, 0, out[0].ThumbsUpCount)
	assert.Equal(t, -3, in[1].ThumbsUpCount)

	require.NotNil(t, out[1].AppVersion)
	assert.Equal(t, "1.0", *out[1].AppVersion, "version carried forward")
	assert.Equal(t, "1.1", *out[2].AppVersion)
	assert.Equal(t, domain.DateOf(t0), out[0].Date)
}

func TestLexiconScorer(t *testing.T) {
	s := LexiconScorer{}
	ctx := context.Background()
	cases := map[string]Label{
		"I love this app, it is great":    Positive,
		"The app opens":                   Neutral,
		"Terrible, crashes all the time":  Negative,
		"not good":                        Negative,
		"":                                Neutral,
	}
	for text, want := range cases {
		got, err := s.Label(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}
	assert.Greater(t, s.Polarity("very good"), s.Polarity("good"))
}

func TestCompoundScorer(t *testing.T) {
	s := CompoundScorer{}
	ctx := context.Background()
	cases := map[string]Label{
		"Works great, love it":     Positive,
		"It is an app":             Neutral,
		"Worst update ever, buggy": Negative,
		"This is not bad":          Positive,
	}
	for text, want := range cases {
		got, err := s.Label(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}
	assert.Greater(t, s.Compound("good!!!"), s.Compound("good"))
	assert.Greater(t, s.Compound("this is GOOD"), s.Compound("this is good"))
	c := s.Compound("love love love love love love love love")
	assert.LessOrEqual(t, c, 1.0)

	// reference scores of the VADER distribution
	assert.InDelta(t, 0.4404, s.Compound("The book was good."), 1e-4)
	assert.InDelta(t, 0.8316, s.Compound("VADER is smart, handsome, and funny."), 1e-4)
}

func TestScorerFor(t *testing.T) {
	s, err := ScorerFor("VADER", nil)
	require.NoError(t, err)
	assert.Equal(t, "compound", s.Name())

	s, err = ScorerFor("", nil)
	require.NoError(t, err)
	assert.Equal(t, "lexicon", s.Name())

	_, err = ScorerFor("roberta", nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
	_, err = ScorerFor("bogus", nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func newFakeOpenAI(t *testing.T, reply string) *LLMScorer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewLLMScorerWithConfig(cfg, "test-model")
}

func TestLLMScorer(t *testing.T) {
	s := newFakeOpenAI(t, " Negative.")
	got, err := s.Label(context.Background(), "app keeps crashing")
	require.NoError(t, err)
	assert.Equal(t, Negative, got)
	assert.Equal(t, "llm:test-model", s.Name())

	bad := newFakeOpenAI(t, "dunno")
	got, err = bad.Label(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, LabelError, got)

	_, err = NewLLMScorer("", "")
	assert.Error(t, err)
}

type flakyScorer struct{}

func (flakyScorer) Name() string { return "flaky" }
func (flakyScorer) Label(_ context.Context, text string) (Label, error) {
	if text == "boom" {
		return LabelError, errors.New("boom")
	}
	return Positive, nil
}

func TestSummarize(t *testing.T) {
	rows := Preprocess([]domain.ReviewRecord{
		rec("1", 5, "nice", t0),
		rec("2", 3, "boom", t0),
		rec("3", 4, "ok", t0.AddDate(0, 0, 1)),
	})
	sum, err := Summarize(context.Background(), rows, flakyScorer{}, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Counts[Positive])
	assert.Equal(t, 1, sum.Counts[LabelError])
	assert.InDelta(t, 4.0, sum.AverageScore, 1e-9)
	assert.InDelta(t, 2.0/3, sum.Shares[Positive], 1e-9)
	require.Len(t, sum.Daily, 2)
	assert.Equal(t, domain.DateOf(t0), sum.Daily[0].Date)
	assert.Equal(t, 1, sum.Daily[1].Counts[Positive])
}

func TestSummarize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows := Preprocess([]domain.ReviewRecord{rec("1", 5, "nice", t0)})
	_, err := Summarize(ctx, rows, LexiconScorer{}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
