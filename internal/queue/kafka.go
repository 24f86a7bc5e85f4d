// Package queue carries job wake-up notifications between the API server
// and the worker. Kafka is an optimization, not the source of truth: the
// database claim decides who processes a job, and the worker's poll ticker
// picks up anything a lost message would miss.
package queue

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Notifier announces newly enqueued jobs.
type Notifier interface {
	Notify(ctx context.Context, jobID uuid.UUID) error
	Close() error
}

// KafkaNotifier publishes job ids to the configured topic.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(broker, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: []string{broker},
			Topic:   topic,
		}),
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, jobID uuid.UUID) error {
	return n.writer.WriteMessages(ctx, kafka.Message{Value: []byte(jobID.String())})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NopNotifier is used when no broker is configured; the worker then relies
// on polling alone.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, jobID uuid.UUID) error { return nil }
func (NopNotifier) Close() error                                      { return nil }

// Listen consumes job notifications and signals wake for each one until ctx
// is canceled. Message content is ignored beyond logging; a wake-up only
// tells the worker to poll now instead of at the next tick.
func Listen(ctx context.Context, broker, topic, group string, wake chan<- struct{}) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: group,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("queue.Listen: read message: %v", err)
			continue
		}
		log.Printf("queue.Listen: job notification %s", msg.Value)
		select {
		case wake <- struct{}{}:
		default: // worker already awake
		}
	}
}
