// Package kafkarepo streams committed check-in records to Kafka.
package kafkarepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/kirinyoku/tix-checkin/internal/domain"
)

const DefaultTopic = "tixgate.checkins.recorded"

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per CheckInRecord, keyed by ticket id so all
// records of a ticket land on one partition in order.
type Publisher struct {
	w       messageWriter
	timeout time.Duration
}

func NewPublisher(cfg Config) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: timeout,
	}
}

type recordMessage struct {
	ID          uuid.UUID      `json:"id"`
	EventID     int64          `json:"event_id"`
	TicketID    *uuid.UUID     `json:"ticket_id,omitempty"`
	ScannedBy   string         `json:"scanned_by"`
	Timestamp   time.Time      `json:"timestamp"`
	Outcome     domain.Outcome `json:"outcome"`
	Reason      domain.Reason  `json:"reason"`
	PayloadHash string         `json:"payload_hash"`
}

func (p *Publisher) PublishCheckIn(ctx context.Context, rec domain.CheckInRecord) error {
	const op = "kafkarepo.Publisher.PublishCheckIn"

	msg, err := buildMessage(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

func buildMessage(rec domain.CheckInRecord) (kafka.Message, error) {
	value, err := json.Marshal(recordMessage{
		ID:          rec.ID,
		EventID:     rec.EventID,
		TicketID:    rec.TicketID,
		ScannedBy:   rec.ScannedBy,
		Timestamp:   rec.Timestamp.UTC(),
		Outcome:     rec.Outcome,
		Reason:      rec.Reason,
		PayloadHash: rec.PayloadHash,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	key := rec.ID
	if rec.TicketID != nil {
		key = *rec.TicketID
	}

	return kafka.Message{
		Key:   []byte(key.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(rec.Outcome)},
		},
	}, nil
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishCheckIn(context.Context, domain.CheckInRecord) error { return nil }
func (Noop) Close() error                                              { return nil }
