package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/bucketing"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/client"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// KafkaPublisher streams security events to the security-events topic. The
// message key is the user id so per-user ordering survives partitioning.
type KafkaPublisher struct {
	producer *client.KafkaProducer
	buckets  *bucketing.Manager
	topic    string
}

func NewKafkaPublisher(producer *client.KafkaProducer, buckets *bucketing.Manager, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		buckets:  buckets,
		topic:    topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event model.SecurityEvent) error {
	if event.EventBucket == 0 && event.UserID != "" {
		event.EventBucket = p.buckets.EventBucket(event.UserID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}

	headers := map[string]string{
		"event_type":   event.EventType,
		"event_bucket": strconv.Itoa(event.EventBucket),
	}
	return p.producer.ProduceMessage(ctx, p.topic, []byte(event.UserID), payload, headers)
}
