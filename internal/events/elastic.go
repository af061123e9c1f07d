package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/client"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// ElasticPublisher indexes security events for ad hoc search by the ops
// tooling.
type ElasticPublisher struct {
	es    *client.ESClient
	index string
}

func NewElasticPublisher(es *client.ESClient, index string) *ElasticPublisher {
	return &ElasticPublisher{es: es, index: index}
}

func (p *ElasticPublisher) Publish(ctx context.Context, event model.SecurityEvent) error {
	res, err := p.es.IndexDocument(ctx, p.index, uuid.New().String(), event)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index security event: %s", res.String())
	}
	return nil
}
