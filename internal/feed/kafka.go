package feed

import (
	"context"
	"io"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

// KafkaConfig holds Kafka consumer configuration.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// KafkaFeed consumes transaction messages from a Kafka topic. Messages are
// committed only after the handler returns, so an abrupt shutdown replays
// unprocessed messages instead of losing them; the engine's duplicate
// suppression absorbs the replays.
type KafkaFeed struct {
	reader *kafka.Reader
	logger *log.Logger
}

// NewKafkaFeed creates a feed over the given topic. A nil logger discards.
func NewKafkaFeed(config KafkaConfig, logger *log.Logger) *KafkaFeed {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // explicit commits only
		StartOffset:    kafka.FirstOffset,
	})

	return &KafkaFeed{reader: reader, logger: logger}
}

// Run fetches, decodes and hands each transaction to the handler until the
// context is canceled. Undecodable messages are committed and skipped so
// the partition never wedges on a poison message.
func (f *KafkaFeed) Run(ctx context.Context, handler func(context.Context, *domain.Transaction)) error {
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		tx, err := Decode(msg.Value)
		if err != nil {
			f.logger.Printf("skipping undecodable message at %s[%d]@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			if cerr := f.reader.CommitMessages(ctx, msg); cerr != nil {
				f.logger.Printf("committing poison message failed: %v", cerr)
			}
			continue
		}

		handler(ctx, tx)

		if err := f.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Printf("commit failed at %s[%d]@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		}
	}
}

// Close closes the underlying reader.
func (f *KafkaFeed) Close() error {
	return f.reader.Close()
}
