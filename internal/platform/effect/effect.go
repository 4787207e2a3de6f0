package effect

import (
	"context"
	"fmt"
	"log/slog"

	"perfreview/internal/requestctx"
)

// BestEffort runs fn and logs any error or panic instead of returning it.
// It reports whether fn completed without error.
func BestEffort(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error, attrs ...any) (ok bool) {
	logger = requestctx.Logger(ctx, logger)
	defer func() {
		if recovered := recover(); recovered != nil {
			ok = false
			logger.WarnContext(ctx, name+" failed", append(attrs, "err", fmt.Sprint(recovered), "panic", true)...)
		}
	}()
	if err := fn(ctx); err != nil {
		logger.WarnContext(ctx, name+" failed", append(attrs, "err", err)...)
		return false
	}
	return true
}
