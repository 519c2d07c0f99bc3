// Package logger builds *slog.Logger instances for the subscription service.
//
// New takes functional options selecting format, level, static attributes and
// ContextExtractor callbacks that copy request-scoped values (such as the
// request ID) into every record. FromConfig maps the APP_ENV / LOG_LEVEL /
// LOG_FORMAT environment onto those options.
//
// attr.go holds constructors for the attribute keys shared across the service
// (user_id, event_id, outcome, reason, actor ...) so that log queries stay
// stable between components.
//
//	log := logger.New(logger.FromConfig(cfg)...)
//	log.InfoContext(ctx, "webhook processed",
//	    logger.EventID(ev.ID),
//	    logger.Outcome("applied"),
//	)
package logger
