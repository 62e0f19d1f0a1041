package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// safeCall runs fn and turns a panic into an error log so one bad callback
// cannot stop a monitor loop.
func safeCall(ctx context.Context, logger *slog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "callback panicked",
				slog.String("callback", what),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
