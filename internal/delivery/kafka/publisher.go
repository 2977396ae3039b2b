package kafka

import (
	"context"
	"fmt"

	"github.com/azizikri/offer-feed/internal/domain"
	"github.com/azizikri/offer-feed/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher writes change events to the change topic, keyed by user so a
// user's changes stay ordered within one partition.
type Publisher struct {
	client *kgo.Client
	topic  string
}

func NewPublisher(client *kgo.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

func (p *Publisher) Publish(ctx context.Context, evt domain.ChangeEvent) error {
	payload, err := encodeChange(evt)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(evt.UserID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: KindHeaderKey, Value: []byte(evt.Kind)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce change: %w", err)
	}
	return nil
}

var _ usecase.ChangePublisher = (*Publisher)(nil)
