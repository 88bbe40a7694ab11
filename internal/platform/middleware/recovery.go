package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/pkg/apperror"
)

const panicStackSize = 8 << 10

// Recovery converts a handler panic into an internal apperror response. The
// panic is logged on the request-scoped logger set by Logger when present, so
// the entry carries the request id; otherwise on fallback.
func Recovery(fallback zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				stack := make([]byte, panicStackSize)
				stack = stack[:runtime.Stack(stack, false)]

				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				req := c.Request()
				requestLogger(c, fallback).Error().
					Err(cause).
					Str("method", req.Method).
					Str("route", c.Path()).
					Bytes("stack", stack).
					Msg("handler panicked")

				err = apperror.ToHTTP(errors.Join(errPanic, cause))
			}()
			return next(c)
		}
	}
}

var errPanic = errors.New("handler panicked")

func requestLogger(c echo.Context, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request().Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &fallback
}
