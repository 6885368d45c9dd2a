package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/IBM/sarama"
	"github.com/erain9/marketreplica/pkg/messaging"
)

const maxRetry = 5

// newSyncProducer is swapped out in tests
var newSyncProducer = sarama.NewSyncProducer

// newConsumer is swapped out in tests
var newConsumer = sarama.NewConsumer

// QueueRequestSender sends the viewer's requests to Kafka through a sarama
// synchronous producer.
type QueueRequestSender struct {
	producer sarama.SyncProducer
	topic    string
	pcode    string
}

// NewQueueRequestSender creates a sender bound to one participant
func NewQueueRequestSender(brokers []string, topic, pcode string) (*QueueRequestSender, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Return.Successes = true

	producer, err := newSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &QueueRequestSender{
		producer: producer,
		topic:    topic,
		pcode:    pcode,
	}, nil
}

// Send publishes env keyed by pcode
func (q *QueueRequestSender) Send(ctx context.Context, env messaging.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", env.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(q.pcode),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (q *QueueRequestSender) Close() error {
	return q.producer.Close()
}

// QueueEventSource reads envelopes from a single partition of the engine's
// fan-out topic. A single partition keeps arrival order total.
type QueueEventSource struct {
	consumer  sarama.Consumer
	partition sarama.PartitionConsumer
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueEventSource starts consuming topic/partition. With resumeSeq 0 it
// starts at the newest offset; otherwise it starts right after the envelope
// at position resumeSeq, so a restored replica neither replays nor misses
// events.
func NewQueueEventSource(brokers []string, topic string, partition int32, resumeSeq uint64) (*QueueEventSource, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := newConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return newQueueEventSource(consumer, topic, partition, startOffset(resumeSeq))
}

// startOffset maps a stream position to the offset of the next envelope.
// Positions are offset + 1.
func startOffset(resumeSeq uint64) int64 {
	if resumeSeq == 0 {
		return sarama.OffsetNewest
	}
	return int64(resumeSeq)
}

func newQueueEventSource(consumer sarama.Consumer, topic string, partition int32, offset int64) (*QueueEventSource, error) {
	pc, err := consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to consume partition %d: %w", partition, err)
	}
	return &QueueEventSource{
		consumer:  consumer,
		partition: pc,
		done:      make(chan struct{}),
	}, nil
}

// Next blocks until the next envelope, a consumer error, Close or ctx cancellation
func (q *QueueEventSource) Next(ctx context.Context) (messaging.Envelope, error) {
	select {
	case <-ctx.Done():
		return messaging.Envelope{}, ctx.Err()
	case <-q.done:
		return messaging.Envelope{}, io.EOF
	case cerr, ok := <-q.partition.Errors():
		if !ok {
			return messaging.Envelope{}, io.EOF
		}
		return messaging.Envelope{}, fmt.Errorf("kafka consumer error: %w", cerr.Err)
	case msg, ok := <-q.partition.Messages():
		if !ok {
			return messaging.Envelope{}, io.EOF
		}
		var env messaging.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			return messaging.Envelope{}, &messaging.ProtocolViolationError{Type: "<undecodable>", Err: err}
		}
		env.Seq = uint64(msg.Offset) + 1
		return env, nil
	}
}

// Close stops the partition consumer and the consumer
func (q *QueueEventSource) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		err = errors.Join(q.partition.Close(), q.consumer.Close())
	})
	return err
}

var (
	_ messaging.RequestSender = (*QueueRequestSender)(nil)
	_ messaging.EventSource   = (*QueueEventSource)(nil)
)
