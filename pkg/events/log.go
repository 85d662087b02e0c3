package events

import (
	"context"
	"log/slog"

	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/logger"
)

// LogPublisher writes ledger events to a logger.
type LogPublisher struct {
	log *slog.Logger
}

var _ ledger.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event ledger.Event) error {
	p.log.InfoContext(ctx, "ledger event",
		slog.String("type", string(event.Type)),
		logger.SubscriptionID(event.SubscriptionID),
		logger.UserID(event.UserID),
		logger.PlanID(event.PlanID),
		slog.Int("credits_remaining", event.CreditsRemaining),
		slog.Time("occurred_at", event.OccurredAt))
	return nil
}
