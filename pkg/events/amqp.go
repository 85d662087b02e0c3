package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/logger"
)

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// connection is the part of *amqp091.Connection the publisher uses.
type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

type amqpConn struct {
	*amqp091.Connection
}

func (c amqpConn) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AMQPPublisher implements ledger.EventPublisher on a RabbitMQ topic exchange.
// A dropped connection is redialed on the next publish.
type AMQPPublisher struct {
	mu       sync.Mutex
	dial     func() (connection, error)
	conn     connection
	ch       channel
	exchange string
	log      *slog.Logger
	closed   bool
}

var _ ledger.EventPublisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg Config, log *slog.Logger) (*AMQPPublisher, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
		return nil, ErrInvalidURL
	}
	addr := u.String()

	return newPublisher(func() (connection, error) {
		conn, err := amqp091.DialConfig(addr, amqp091.Config{
			Dial: amqp091.DefaultDial(cfg.DialTimeout),
		})
		if err != nil {
			return nil, err
		}
		return amqpConn{conn}, nil
	}, cfg.Exchange, log)
}

func newPublisher(dial func() (connection, error), exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &AMQPPublisher{
		dial:     dial,
		exchange: exchange,
		log:      log.With(logger.Component("amqp_publisher")),
	}
	if err := p.reopen(); err != nil {
		p.release()
		return nil, errors.Join(ErrConnectFailed, err)
	}
	return p, nil
}

// Publish sends event with its type as the routing key. A failed publish
// reopens the channel, redialing the broker if the connection is gone, and
// retries once.
func (p *AMQPPublisher) Publish(ctx context.Context, event ledger.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	// A previous reopen may have failed and left no channel.
	if p.ch == nil {
		if err := p.reopen(); err != nil {
			return errors.Join(ErrPublishFailed, err)
		}
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg)
	if err == nil {
		return nil
	}

	p.log.WarnContext(ctx, "publish failed, reopening channel",
		slog.String("routing_key", string(event.Type)),
		logger.Error(err))
	if rerr := p.reopen(); rerr != nil {
		return errors.Join(ErrPublishFailed, err, rerr)
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Close releases the channel and connection. Safe to call more than once.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.release()
}

func (p *AMQPPublisher) release() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
		p.ch = nil
	}
	if p.conn != nil {
		if !p.conn.IsClosed() {
			errs = append(errs, p.conn.Close())
		}
		p.conn = nil
	}
	return errors.Join(errs...)
}

// reopen replaces the channel and declares the exchange, dialing a new
// connection first when there is none or the broker closed it. Callers hold
// mu or own p exclusively.
func (p *AMQPPublisher) reopen() error {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		if p.conn != nil {
			p.log.Warn("broker connection lost, redialing")
		}
		conn, err := p.dial()
		if err != nil {
			p.conn = nil
			return err
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	p.ch = ch
	return nil
}

// publishTimeout bounds a single publish when the caller's context has no deadline.
const publishTimeout = 5 * time.Second

// WithTimeout wraps a publisher so each publish gets its own deadline.
func WithTimeout(next ledger.EventPublisher, timeout time.Duration) ledger.EventPublisher {
	if timeout <= 0 {
		timeout = publishTimeout
	}
	return ledger.EventPublisherFunc(func(ctx context.Context, event ledger.Event) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return next.Publish(ctx, event)
	})
}
