package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrail/walkledger/pkg/ledger"
)

func memoryConfig() appConfig {
	return appConfig{
		Env:           "test",
		ServiceName:   "walkledger",
		Store:         storeMemory,
		Gateway:       gatewayManual,
		PlansSource:   plansFromFile,
		PlansFile:     "../../plans.yaml",
		Dedupe:        dedupeMemory,
		DedupeTTL:     time.Hour,
		SweepSchedule: "@every 15m",
		SweepTimeout:  time.Minute,
		EventTimeout:  time.Second,
	}
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	defer func() { Version, GitCommit = oldVersion, oldCommit }()
	Version, GitCommit = "1.2.3", "abcdef"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "walkledger 1.2.3")
	assert.Contains(t, out.String(), "Commit: abcdef")
}

func TestAppConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*appConfig)
		wantErr bool
	}{
		{"memory defaults", func(*appConfig) {}, false},
		{"postgres with db plans", func(c *appConfig) { c.Store = storePostgres; c.PlansSource = plansFromDB }, false},
		{"unknown store", func(c *appConfig) { c.Store = "sqlite" }, true},
		{"unknown gateway", func(c *appConfig) { c.Gateway = "paypal" }, true},
		{"unknown plans source", func(c *appConfig) { c.PlansSource = "http" }, true},
		{"unknown dedupe backend", func(c *appConfig) { c.Dedupe = "memcached" }, true},
		{"db plans need postgres", func(c *appConfig) { c.PlansSource = plansFromDB }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := memoryConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errInvalidOption)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewGateway(t *testing.T) {
	t.Parallel()

	gw, err := newGateway(gatewayManual)
	require.NoError(t, err)
	assert.IsType(t, ledger.ManualGateway{}, gw)

	_, err = newGateway("paypal")
	assert.ErrorIs(t, err, errInvalidOption)
}

func TestNewAppInMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := newApp(ctx, memoryConfig(), slog.New(slog.DiscardHandler), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.close()

	plans, err := a.ledger.Catalog().ListActive(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, plans)
	assert.Equal(t, "trial", plans[0].ID, "free plan sorts first")
	assert.Equal(t, ledger.DefaultCurrency, plans[0].Currency)

	res, err := a.ledger.Checkout(ctx, ledger.PurchaseRequest{UserID: "u1", OwnerID: "o1", PlanID: "trial"}, ledger.CheckoutOptions{})
	require.NoError(t, err)
	require.False(t, res.Pending())

	sub, err := a.ledger.DebitCredit(ctx, res.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.CreditsRemaining)
}
