package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"tramsim/sim"
)

// messageWriter mirrors the subset of kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes one JSON message per event, keyed by tram id so a tram's
// events stay on one partition.
type Kafka struct {
	w         messageWriter
	batchSize int
	retry     Retry
	log       *slog.Logger
}

// NewKafka builds a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string, retry Retry, log *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafka(w, retry, log)
}

func newKafka(w messageWriter, retry Retry, log *slog.Logger) *Kafka {
	if log == nil {
		log = slog.Default()
	}
	return &Kafka{w: w, batchSize: 500, retry: retry.orDefault(), log: log}
}

func (k *Kafka) Publish(ctx context.Context, events []sim.Event) error {
	runID := RunIDFrom(ctx)
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := Encode(runID, e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", sim.EventName(e), err)
		}
		key := "fleet"
		if id := sim.EventTramID(e); id > 0 {
			key = strconv.Itoa(id)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(key),
			Value:   b,
			Headers: []kafka.Header{{Key: "type", Value: []byte(sim.EventName(e))}},
		})
	}
	for start := 0; start < len(msgs); start += k.batchSize {
		end := start + k.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		batch := msgs[start:end]
		if err := k.retry.do(ctx, func(ctx context.Context) error { return k.w.WriteMessages(ctx, batch...) }); err != nil {
			k.log.Error("kafka write failed", "err", err, "run", runID, "batch_start", start)
			return fmt.Errorf("kafka publish: %w", err)
		}
	}
	k.log.Info("published", "sink", "kafka", "run", runID, "messages", len(msgs))
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
