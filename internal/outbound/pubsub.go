package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubConfig selects the topic and client-side batching of the sink.
type PubSubConfig struct {
	ProjectID    string
	TopicName    string
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
}

// DefaultPubSubConfig returns the publish settings used when none are configured.
func DefaultPubSubConfig() PubSubConfig {
	return PubSubConfig{
		BatchSize:    100,
		BatchBytes:   1000000, // 1MB
		BatchTimeout: 100 * time.Millisecond,
	}
}

// PubSubSink publishes messages to one Google Cloud Pub/Sub topic.
type PubSubSink struct {
	config PubSubConfig
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to the project and creates the topic when missing.
func NewPubSubSink(ctx context.Context, config PubSubConfig) (*PubSubSink, error) {
	defaults := DefaultPubSubConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.BatchBytes <= 0 {
		config.BatchBytes = defaults.BatchBytes
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = defaults.BatchTimeout
	}

	client, err := pubsub.NewClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(config.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		topic, err = client.CreateTopic(ctx, config.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
		slog.Info("[Outbound] Created pubsub topic", "topic", config.TopicName)
	}

	topic.PublishSettings = pubsub.PublishSettings{
		ByteThreshold:  config.BatchBytes,
		CountThreshold: config.BatchSize,
		DelayThreshold: config.BatchTimeout,
	}

	return &PubSubSink{config: config, client: client, topic: topic}, nil
}

// Send publishes one message and waits for the server id.
func (s *PubSubSink) Send(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending publishes and closes the client.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
