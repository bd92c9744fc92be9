// Package events publishes call lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-reservation-gateway/internal/observability/metrics"
)

// Topics carried by the publisher.
const (
	TopicCallStarted        = "voice.call.started"
	TopicCallEnded          = "voice.call.ended"
	TopicTurnCompleted      = "voice.turn.completed"
	TopicReservationCreated = "voice.reservation.created"
)

// Publisher writes lifecycle events, keyed by call ID so one call's events
// land on one partition in order. When disabled it degrades to log-only
// mode, which keeps local development broker-free.
type Publisher struct {
	writer    *kafka.Writer
	principal string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Principal string
	Enabled   bool
}

// New creates a Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		p := &Publisher{enabled: false, metrics: m}
		if cfg != nil {
			p.principal = cfg.Principal
		}
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writer:    writer,
		principal: cfg.Principal,
		enabled:   true,
		metrics:   m,
	}
}

// CallStarted publishes a voice.call.started event.
func (p *Publisher) CallStarted(ctx context.Context, ev CallStarted) error {
	return p.publish(ctx, TopicCallStarted, ev.CallID, ev)
}

// CallEnded publishes a voice.call.ended event.
func (p *Publisher) CallEnded(ctx context.Context, ev CallEnded) error {
	return p.publish(ctx, TopicCallEnded, ev.CallID, ev)
}

// TurnCompleted publishes a voice.turn.completed event.
func (p *Publisher) TurnCompleted(ctx context.Context, ev TurnCompleted) error {
	return p.publish(ctx, TopicTurnCompleted, ev.CallID, ev)
}

// ReservationCreated publishes a voice.reservation.created event.
func (p *Publisher) ReservationCreated(ctx context.Context, ev ReservationCreated) error {
	return p.publish(ctx, TopicReservationCreated, ev.CallID, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordEventPublish(topic, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordEventPublish(topic, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordEventPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// Close closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
