package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sender needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RequestSender publishes the viewer's requests to the engine's inbound topic
type RequestSender struct {
	writer  messageWriter
	pcode   string
	timeout time.Duration
}

// NewRequestSender creates a new Kafka request sender. Messages are keyed by
// pcode so one participant's requests stay ordered within a partition.
func NewRequestSender(brokers []string, topic, pcode string) *RequestSender {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return newRequestSender(writer, pcode)
}

func newRequestSender(writer messageWriter, pcode string) *RequestSender {
	return &RequestSender{
		writer:  writer,
		pcode:   pcode,
		timeout: 5 * time.Second,
	}
}

// Send publishes env
func (k *RequestSender) Send(ctx context.Context, env messaging.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", env.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(k.pcode),
		Value: data,
		Time:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Close closes the Kafka writer
func (k *RequestSender) Close() error {
	return k.writer.Close()
}

var _ messaging.RequestSender = (*RequestSender)(nil)
