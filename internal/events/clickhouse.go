package events

import (
	"context"
	"fmt"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/bucketing"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/client"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// ClickHousePublisher writes security events into the audit table,
// partitioned by date bucket and spread by event bucket.
type ClickHousePublisher struct {
	ch      *client.ClickHouseClient
	buckets *bucketing.Manager
	table   string
}

func NewClickHousePublisher(ch *client.ClickHouseClient, buckets *bucketing.Manager, table string) *ClickHousePublisher {
	return &ClickHousePublisher{
		ch:      ch,
		buckets: buckets,
		table:   table,
	}
}

func (p *ClickHousePublisher) Publish(ctx context.Context, event model.SecurityEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(date_bucket, event_bucket, event_type, event_time, user_id, session_id, device_id, ip_address, user_agent, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, p.table)

	return p.ch.Exec(ctx, query,
		p.buckets.DateBucket(event.EventTime),
		uint16(p.buckets.EventBucket(event.UserID)),
		event.EventType,
		event.EventTime,
		event.UserID,
		event.SessionID,
		event.DeviceID,
		event.IPAddress,
		event.UserAgent,
		event.Details,
	)
}
