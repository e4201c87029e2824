package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/jonreiter/govader"
	openai "github.com/sashabaranov/go-openai"
)

type Label string

const (
	Positive   Label = "Positive"
	Neutral    Label = "Neutral"
	Negative   Label = "Negative"
	LabelError Label = "Error"
)

var ErrUnknownModel = errors.New("unknown sentiment model")

// Scorer labels one review text.
type Scorer interface {
	Name() string
	Label(ctx context.Context, text string) (Label, error)
}

// ScorerFor picks a scorer by model name. llm serves the model-backed names
// and may be nil when no API key is configured.
func ScorerFor(name string, llm Scorer) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lexicon", "textblob":
		return LexiconScorer{}, nil
	case "compound", "vader":
		return CompoundScorer{}, nil
	case "llm", "openai", "transformer", "roberta", "distilbert":
		if llm == nil {
			return nil, fmt.Errorf("%w: %q needs OPENAI_API_KEY", ErrUnknownModel, name)
		}
		return llm, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// vader is shared by both lexicon scorers. The analyzer is read-only once built.
var vader = sync.OnceValue(govader.NewSentimentIntensityAnalyzer)

/********** lexicon polarity **********/

// LexiconScorer averages word polarity in [-1, 1]; any positive mean is
// Positive and exactly zero is Neutral.
type LexiconScorer struct{}

func (LexiconScorer) Name() string { return "lexicon" }

func (s LexiconScorer) Label(_ context.Context, text string) (Label, error) {
	p := s.Polarity(text)
	switch {
	case p > 0:
		return Positive, nil
	case p == 0:
		return Neutral, nil
	}
	return Negative, nil
}

// Polarity is the mean of the rated words, each scaled from the -4..4 VADER
// scale to -1..1, boosted by a preceding intensifier and halved and flipped
// when one of the two preceding words negates it.
func (LexiconScorer) Polarity(text string) float64 {
	v := vader()
	toks := tokenize(strings.ToLower(text))
	var sum float64
	n := 0
	for i, t := range toks {
		val, ok := v.Lexicon[t]
		if !ok {
			continue
		}
		p := val / 4
		if i > 0 {
			if b, ok := v.Constants.BoosterDict[toks[i-1]]; ok {
				p *= 1 + b*2
			}
		}
		if negatedWithin(v.Constants.NegateList, toks, i, 2) {
			p *= -0.5
		}
		sum += max(-1, min(1, p))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func negatedWithin(negations, toks []string, i, window int) bool {
	for j := max(0, i-window); j < i; j++ {
		if slices.Contains(negations, toks[j]) {
			return true
		}
	}
	return false
}

/********** compound valence **********/

const compoundThreshold = 0.05

// CompoundScorer labels by the VADER compound score with the usual
// +-0.05 neutral band.
type CompoundScorer struct{}

func (CompoundScorer) Name() string { return "compound" }

func (s CompoundScorer) Label(_ context.Context, text string) (Label, error) {
	c := s.Compound(text)
	switch {
	case c >= compoundThreshold:
		return Positive, nil
	case c <= -compoundThreshold:
		return Negative, nil
	}
	return Neutral, nil
}

func (CompoundScorer) Compound(text string) float64 {
	return vader().PolarityScores(text).Compound
}

/********** model-backed **********/

const llmSystemPrompt = "You label the sentiment of mobile app reviews. " +
	"Answer with exactly one word: Positive, Neutral or Negative."

// LLMScorer asks a chat-completion model for the label.
type LLMScorer struct {
	client *openai.Client
	model  string
}

func NewLLMScorer(apiKey, model string) (*LLMScorer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return NewLLMScorerWithConfig(openai.DefaultConfig(apiKey), model), nil
}

func NewLLMScorerWithConfig(cfg openai.ClientConfig, model string) *LLMScorer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMScorer{client: openai.NewClientWithConfig(cfg), model: model}
}

func (s *LLMScorer) Name() string { return "llm:" + s.model }

func (s *LLMScorer) Label(ctx context.Context, text string) (Label, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   3,
		Temperature: 0,
	})
	if err != nil {
		return LabelError, fmt.Errorf("OpenAI completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LabelError, fmt.Errorf("OpenAI returned no choices")
	}
	return parseLabel(resp.Choices[0].Message.Content)
}

func parseLabel(s string) (Label, error) {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "positive"):
		return Positive, nil
	case strings.Contains(s, "negative"):
		return Negative, nil
	case strings.Contains(s, "neutral"):
		return Neutral, nil
	}
	return LabelError, fmt.Errorf("unrecognised label %q", s)
}
