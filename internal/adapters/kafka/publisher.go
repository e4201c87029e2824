package kafkaad

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

const EventSyncCompleted = "sync.completed"

// SyncEvent is the wire form of a finished sync.
type SyncEvent struct {
	Type            string    `json:"type"`
	RunID           string    `json:"run_id"`
	AppID           string    `json:"app_id"`
	AppName         string    `json:"app_name"`
	WindowStart     string    `json:"window_start"`
	WindowEnd       string    `json:"window_end"`
	Status          string    `json:"status"`
	Fetched         int       `json:"fetched"`
	Inserted        int       `json:"inserted"`
	Unresolvable    int       `json:"unresolvable"`
	RangesProcessed int       `json:"ranges_processed"`
	RangesSkipped   int       `json:"ranges_skipped"`
	Cause           string    `json:"cause,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

func NewSyncEvent(r domain.SyncReport) SyncEvent {
	return SyncEvent{
		Type:            EventSyncCompleted,
		RunID:           r.RunID,
		AppID:           r.AppID,
		AppName:         r.AppName,
		WindowStart:     r.Window.Start.String(),
		WindowEnd:       r.Window.End.String(),
		Status:          string(r.Status),
		Fetched:         r.Fetched,
		Inserted:        r.Inserted,
		Unresolvable:    r.Unresolvable,
		RangesProcessed: r.RangesProcessed,
		RangesSkipped:   r.RangesSkipped,
		Cause:           r.CauseText(),
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends sync reports to a topic, keyed by app name so one app's
// events stay ordered within a partition.
type Publisher struct {
	w messageWriter
}

type Config struct {
	Brokers []string
	Topic   string
}

func NewPublisher(cfg Config) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *Publisher) SyncFinished(ctx context.Context, r domain.SyncReport) error {
	msg, err := encode(r)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", EventSyncCompleted, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }

func encode(r domain.SyncReport) (kafka.Message, error) {
	b, err := json.Marshal(NewSyncEvent(r))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode sync event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(r.AppName),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventSyncCompleted)},
		},
		Time: r.FinishedAt,
	}, nil
}

// Noop drops events; used when no brokers are configured.
type Noop struct{}

func (Noop) SyncFinished(context.Context, domain.SyncReport) error { return nil }
