// Package events fans security events out to the configured sinks. Sinks are
// best effort side channels; a failing sink never blocks authentication.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// Publisher delivers one security event to a sink.
type Publisher interface {
	Publish(ctx context.Context, event model.SecurityEvent) error
}

// Multi fans an event out to every sink and reports the first failure after
// attempting all of them.
type Multi struct {
	sinks  []Publisher
	logger *zap.Logger
}

func NewMulti(logger *zap.Logger, sinks ...Publisher) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Publish(ctx context.Context, event model.SecurityEvent) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.logger.Warn("security event sink failed",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}
	return firstErr
}
