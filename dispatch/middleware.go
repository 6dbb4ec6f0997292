package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/errors"
)

// Middleware wraps a Handler. Middleware runs in registration order: the
// first one registered is the outermost.
type Middleware func(next Handler) Handler

// Chain wraps h with mws.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recovery converts a panic in the handler into a panic-class error.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return func(c *Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = errors.Panic(r)
				}
			}()
			return next(c)
		}
	}
}

// Logging records each invocation at debug level and failures at warn.
// A nil logger uses the package logger.
func Logging(l *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(c *Call) (any, error) {
			log := l
			if log == nil {
				log = Logger()
			}
			start := time.Now()
			result, err := next(c)
			fields := []zap.Field{
				zap.String("function", c.Def.Name),
				zap.Uint32("id", c.Def.ID),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, zap.Error(err), zap.Stringer("status", StatusOf(err)))
				log.Warn("call failed", fields...)
			} else {
				log.Debug("call", fields...)
			}
			return result, err
		}
	}
}
