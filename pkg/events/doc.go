// Package events delivers ledger events outside the process.
//
// AMQPPublisher publishes every ledger.Event as JSON to a durable RabbitMQ
// topic exchange, using the event type as the routing key, so consumers can
// bind to "subscription.#" or to a single transition. LogPublisher writes
// events to a slog logger and serves deployments without a broker.
//
// WebhookPublisher POSTs each event to one HTTP endpoint from a background
// worker, signing the body with HMAC-SHA256 over "timestamp.body" (see Sign)
// and retrying 5xx, 408, 425 and 429 responses with exponential backoff.
package events
