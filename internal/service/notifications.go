package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogSender writes login links to the log instead of delivering them.
// Default sender for development and test environments; production deploys
// plug in the real mail transport.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendLoginLink(ctx context.Context, email, link string, validity time.Duration) error {
	s.logger.Info("login link issued (log delivery)",
		zap.String("email", email),
		zap.String("link", link),
		zap.Duration("valid_for", validity))
	return nil
}
