package shutdown

import (
	"context"
	"os/signal"
	"syscall"
)

// WaitForSignal returns a context cancelled on SIGINT or SIGTERM, and the
// cancel func the caller must defer.
func WaitForSignal(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
