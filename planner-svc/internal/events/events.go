// Package events publishes planner activity for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	MealSaved         Type = "meal_saved"
	MealDeleted       Type = "meal_deleted"
	SourceChanged     Type = "sync_source_changed"
	CustomDishCreated Type = "custom_dish_created"
)

type Event struct {
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id"`
	RefID     string    `json:"ref_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	Writer MessageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Writer: writer}
}

// Publish writes e keyed by user id, so one user's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.UserID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.Writer.Close()
}

// Noop drops every event; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
