package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request's context. The websocket endpoint is
// long-lived and skipped. Handlers that wait on timers (the assistant typing
// delay) observe the cancellation through the request context.
//
// A handler that runs past the deadline without writing a response gets a
// 504 carrying the request ID so the operator can quote it.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasSuffix(c.Request().URL.Path, "/ws") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if ctx.Err() != context.DeadlineExceeded || c.Response().Committed {
				return err
			}
			body := map[string]string{"error": "request processing exceeded the allowed time"}
			if id := c.Response().Header().Get(RequestIDHeader); id != "" {
				body["request_id"] = id
			}
			return c.JSON(http.StatusGatewayTimeout, body)
		}
	}
}
