package hudbus

import (
	"fmt"
)

// RecoveryMiddleware converts handler panics into errors so a broken widget
// never takes the emitter down with it.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(p Payload) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(p)
		}
	}
}

// FilterMiddleware skips the handler for payloads keep rejects.
func FilterMiddleware(keep func(p Payload) bool) Middleware {
	if keep == nil {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(p Payload) error {
			if !keep(p) {
				return nil
			}
			return next(p)
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
