package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/azizikri/offer-feed/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EnsureTopics creates the change topic and its dead-letter topic if missing.
func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config, logger *slog.Logger) error {
	adm := kadm.NewClient(client)

	topics := []string{
		cfg.KafkaChangeTopic,
		cfg.KafkaChangeTopic + TopicDLQSuffix,
	}

	partitions := cfg.TopicPartitions()
	dlqPartitions := cfg.DLQPartitions()
	replicationFactor := cfg.ReplicationFactor()

	for _, topic := range topics {
		p := partitions
		if strings.HasSuffix(topic, TopicDLQSuffix) {
			p = dlqPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), replicationFactor, nil, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	logger.Info("kafka topics ensured", slog.Any("topics", topics))
	return nil
}
