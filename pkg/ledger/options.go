package ledger

import (
	"log/slog"
	"time"
)

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger for lifecycle transitions.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithEventPublisher registers a publisher for ledger events.
// Multiple publishers are fanned out in registration order.
func WithEventPublisher(p EventPublisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publishers = append(l.publishers, p)
		}
	}
}

// WithDeduplicator sets the payment reference deduplicator used by webhooks.
// Defaults to an in-memory deduplicator.
func WithDeduplicator(d Deduplicator) Option {
	return func(l *Ledger) {
		if d != nil {
			l.dedup = d
		}
	}
}

// WithIDGenerator overrides subscription ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}
