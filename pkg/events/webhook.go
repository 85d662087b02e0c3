package events

import (
	"bytes"
	"cmp"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/logger"
)

var (
	ErrInvalidWebhookURL = errors.New("events webhook URL must be an absolute http(s) URL")
	ErrQueueFull         = errors.New("event webhook queue is full")
	ErrDeliveryFailed    = errors.New("event webhook delivery failed")
)

// Signature headers sent with every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
	HeaderEvent     = "X-Walkledger-Event"
)

type WebhookConfig struct {
	URL        string        `env:"EVENTS_WEBHOOK_URL"`
	Secret     string        `env:"EVENTS_WEBHOOK_SECRET"`
	MaxRetries int           `env:"EVENTS_WEBHOOK_MAX_RETRIES" envDefault:"3"`
	Timeout    time.Duration `env:"EVENTS_WEBHOOK_TIMEOUT" envDefault:"10s"`
	QueueSize  int           `env:"EVENTS_WEBHOOK_QUEUE_SIZE" envDefault:"256"`
}

func (c WebhookConfig) Enabled() bool {
	return c.URL != ""
}

// WebhookPublisher POSTs ledger events as signed JSON to a single endpoint,
// typically the walk scheduling service. Publish only enqueues; a background
// worker delivers in order and retries transient failures.
type WebhookPublisher struct {
	url        string
	secret     string
	client     *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
	log        *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan ledger.Event
	done   chan struct{}
}

var _ ledger.EventPublisher = (*WebhookPublisher)(nil)

type WebhookOption func(*WebhookPublisher)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(p *WebhookPublisher) {
		if c != nil {
			p.client = c
		}
	}
}

// WithBackoff sets the delay before retry number attempt (starting at 1).
func WithBackoff(fn func(attempt int) time.Duration) WebhookOption {
	return func(p *WebhookPublisher) {
		if fn != nil {
			p.backoff = fn
		}
	}
}

func NewWebhookPublisher(cfg WebhookConfig, log *slog.Logger, opts ...WebhookOption) (*WebhookPublisher, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidWebhookURL
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	p := &WebhookPublisher{
		url:        u.String(),
		secret:     cfg.Secret,
		client:     &http.Client{Timeout: cmp.Or(cfg.Timeout, 10*time.Second)},
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    exponentialBackoff,
		log:        log,
		queue:      make(chan ledger.Event, max(cfg.QueueSize, 1)),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.run()
	return p, nil
}

// Publish enqueues event for delivery. It never blocks: a full queue
// returns ErrQueueFull.
func (p *WebhookPublisher) Publish(_ context.Context, event ledger.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queue drains or ctx ends.
func (p *WebhookPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WebhookPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		if err := p.deliver(context.Background(), event); err != nil {
			p.log.Error("failed to deliver ledger event",
				slog.String("type", string(event.Type)),
				logger.SubscriptionID(event.SubscriptionID),
				logger.Error(err))
		}
	}
}

func (p *WebhookPublisher) deliver(ctx context.Context, event ledger.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	id := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.backoff(attempt))
		}
		status, err := p.send(ctx, id, event.Type, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent(status) {
			break
		}
	}
	return errors.Join(ErrDeliveryFailed, lastErr)
}

func (p *WebhookPublisher) send(ctx context.Context, id string, typ ledger.EventType, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "walkledger-events/1")
	req.Header.Set(HeaderID, id)
	req.Header.Set(HeaderEvent, string(typ))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	if p.secret != "" {
		req.Header.Set(HeaderSignature, Sign(p.secret, ts, payload))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of "timestamp.payload" under secret.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// permanent reports whether a status will not change on retry. 408, 425 and
// 429 are client errors that may.
func permanent(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// exponentialBackoff doubles from one second up to 30s with 10% jitter.
func exponentialBackoff(attempt int) time.Duration {
	d := 30 * time.Second
	if attempt < 6 {
		d = time.Second << (attempt - 1)
	}
	jitter := (rand.Float64()*2 - 1) * 0.1
	return time.Duration(float64(d) * (1 + jitter))
}
