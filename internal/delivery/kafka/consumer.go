package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrConsumerClosed is passed to subscribers when the consumer stops.
var ErrConsumerClosed = errors.New("change consumer closed")

// Sink receives decoded change events. notify.Hub satisfies it.
type Sink interface {
	Emit(key string, evt domain.ChangeEvent)
	DropAll(err error)
}

// Consumer reads the change topic and fans each event out to the sink under
// the event's user ID.
type Consumer struct {
	client *kgo.Client
	sink   Sink
	logger *slog.Logger
	ready  chan struct{}
}

func NewConsumer(client *kgo.Client, sink Sink, logger *slog.Logger) *Consumer {
	return &Consumer{
		client: client,
		sink:   sink,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start polls until the client is closed or ctx is cancelled. Either way every
// live subscription is dropped on return.
func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	defer c.sink.DropAll(ErrConsumerClosed)

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			c.logger.Warn("consumer poll errors", slog.Any("errors", errs))
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			if err := c.handleRecord(record); err != nil {
				c.sendDLQ(ctx, record, err)
			}
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error("failed to commit records", slog.Any("error", err))
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) handleRecord(record *kgo.Record) error {
	evt, err := decodeChange(record.Value)
	if err != nil {
		return err
	}
	c.sink.Emit(evt.UserID, evt)
	return nil
}

func (c *Consumer) sendDLQ(ctx context.Context, record *kgo.Record, cause error) {
	c.logger.Warn("sending undecodable change to dlq",
		slog.String("topic", record.Topic),
		slog.Int64("offset", record.Offset),
		slog.Any("error", cause))

	dlqRecord := &kgo.Record{
		Topic: record.Topic + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(cause.Error())},
		},
	}
	if err := c.client.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		c.logger.Error("failed to produce dlq record", slog.Any("error", err))
	}
}
