package events

import "errors"

var (
	ErrInvalidURL      = errors.New("AMQP URL must use the amqp:// or amqps:// scheme")
	ErrConnectFailed   = errors.New("failed to connect to message broker")
	ErrPublishFailed   = errors.New("failed to publish ledger event")
	ErrPublisherClosed = errors.New("event publisher is closed")
)
