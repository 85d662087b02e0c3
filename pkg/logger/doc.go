// Package logger builds log/slog loggers for walkledger services.
//
// New returns a *slog.Logger configured through functional options. The
// handler is wrapped so request-scoped values (request ID, subscription ID)
// are pulled from the context on every log call:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "walkledger"),
//		logger.WithContextExtractors(requestid.LogExtractor),
//	)
//	log.InfoContext(ctx, "credit debited", logger.SubscriptionID(id))
//
// Attribute helpers keep key names consistent across packages.
package logger
