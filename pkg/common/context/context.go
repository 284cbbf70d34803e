package context

import (
	"context"
	"time"
)

// WithOptionalTimeout bounds parent by timeout when timeout is positive.
// A non-positive timeout returns parent unchanged with a no-op cancel.
func WithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}
