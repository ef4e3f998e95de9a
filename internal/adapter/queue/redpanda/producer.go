// Package redpanda provides the Kafka-backed task queue.
//
// Work topics carry JSON task payloads. Delivery outcomes map onto Kafka
// like this: acknowledging a task commits its offset mark; a retriable
// failure re-produces the task with an incremented attempt header; a
// permanent failure (or an exhausted attempt budget) routes the task to the
// topic's dead-letter counterpart.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

const (
	headerAttempt   = "attempt"
	headerRequestID = "request_id"
)

// Producer implements domain.Queue on a franz-go client.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer and makes sure the work topics exist.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.producer: no seed brokers provided")
	}
	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}
	if err := EnsureTopics(context.Background(), client, 8); err != nil {
		slog.Warn("topic creation failed, topics may already exist", slog.Any("error", err))
	}
	return &Producer{client: client}, nil
}

// EnqueuePersonaBatch publishes one message covering a whole generation
// batch. The anchor persona id keys the record so a batch stays on one
// partition.
func (p *Producer) EnqueuePersonaBatch(ctx domain.Context, payload domain.PersonaTaskPayload) error {
	record, err := taskRecord(TopicPersona, strconv.FormatInt(payload.PersonaID, 10), payload.RequestID, payload)
	if err != nil {
		return fmt.Errorf("op=queue.enqueue_persona: %w", err)
	}
	if err := p.produce(ctx, record); err != nil {
		return fmt.Errorf("op=queue.enqueue_persona: %w", err)
	}
	observability.EnqueueTask(TopicPersona)
	slog.Info("persona batch enqueued",
		slog.Int64("persona_id", payload.PersonaID),
		slog.Int("count", payload.Count))
	return nil
}

// EnqueueFeedback publishes one task per feedback cell, keyed by session so
// a session's cells stay ordered within a partition.
func (p *Producer) EnqueueFeedback(ctx domain.Context, payload domain.FeedbackTaskPayload) error {
	record, err := taskRecord(TopicFeedback, strconv.FormatInt(payload.SessionID, 10), payload.RequestID, payload)
	if err != nil {
		return fmt.Errorf("op=queue.enqueue_feedback: %w", err)
	}
	if err := p.produce(ctx, record); err != nil {
		return fmt.Errorf("op=queue.enqueue_feedback: %w", err)
	}
	observability.EnqueueTask(TopicFeedback)
	slog.Info("feedback task enqueued",
		slog.Int64("result_id", payload.ResultID),
		slog.Int64("session_id", payload.SessionID))
	return nil
}

func (p *Producer) produce(ctx domain.Context, record *kgo.Record) error {
	return p.client.ProduceSync(ctx, record).FirstErr()
}

// Ping probes broker reachability for the readiness endpoint.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close closes the underlying client, flushing buffered records.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

func taskRecord(topic, key, requestID string, payload any) (*kgo.Record, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: headerAttempt, Value: []byte("0")},
			{Key: headerRequestID, Value: []byte(requestID)},
		},
	}, nil
}

// recordAttempt reads the attempt header, defaulting to 0.
func recordAttempt(record *kgo.Record) int {
	for _, h := range record.Headers {
		if h.Key == headerAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

// recordRequestID reads the request id header.
func recordRequestID(record *kgo.Record) string {
	for _, h := range record.Headers {
		if h.Key == headerRequestID {
			return string(h.Value)
		}
	}
	return ""
}
