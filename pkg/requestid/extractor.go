package requestid

import (
	"context"
	"log/slog"

	"github.com/alipala/language-tutor-sub001/pkg/logger"
)

// LoggerExtractor adds request_id to every log record written with a request context.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return logger.RequestID(id), true
		}
		return slog.Attr{}, false
	}
}
