package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader the event source needs
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// EventSource reads inbound envelopes from the engine's fan-out topic.
// Messages for every participant share the topic; filtering by pcode is
// left to the replica.
type EventSource struct {
	reader messageReader
	logger zerolog.Logger
}

// NewEventSource creates an event source for one participant session. Each
// session uses its own consumer group so that it sees every event. A new
// group starts at the first offset; a restored replica skips the envelopes
// its snapshot already covers.
//
// Envelope positions are partition offsets, so the topic must have a single
// partition.
func NewEventSource(brokers []string, topic, groupID string, logger zerolog.Logger) *EventSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newEventSource(reader, logger)
}

func newEventSource(reader messageReader, logger zerolog.Logger) *EventSource {
	return &EventSource{
		reader: reader,
		logger: logger.With().Str("component", "kafka_source").Logger(),
	}
}

// Next blocks until the next envelope arrives. A message that is not an
// envelope at all is returned as a protocol violation.
func (s *EventSource) Next(ctx context.Context) (messaging.Envelope, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return messaging.Envelope{}, err
	}

	var env messaging.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		s.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to decode envelope")
		return messaging.Envelope{}, &messaging.ProtocolViolationError{Type: "<undecodable>", Err: err}
	}

	s.logger.Debug().
		Str("type", env.Type).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Received envelope")
	env.Seq = uint64(msg.Offset) + 1
	return env, nil
}

// Close closes the underlying reader
func (s *EventSource) Close() error {
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

var _ messaging.EventSource = (*EventSource)(nil)
