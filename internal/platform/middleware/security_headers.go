package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets response headers for a JSON API that returns patient
// data. Responses are never cached. HSTS is only sent when hsts is set, since
// development servers run over plain HTTP.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	static := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "0",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		// The scan page uses the camera from the client app, not from API responses.
		"Permissions-Policy": "camera=(), microphone=(), geolocation=()",
		"Cache-Control":      "no-store",
		"Pragma":             "no-cache",
	}
	if hsts {
		static["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range static {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
