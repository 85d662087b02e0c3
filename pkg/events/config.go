package events

import "time"

type Config struct {
	URL         string        `env:"AMQP_URL"`
	Exchange    string        `env:"AMQP_EXCHANGE" envDefault:"walkledger.events"`
	DialTimeout time.Duration `env:"AMQP_DIAL_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether a broker URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}
