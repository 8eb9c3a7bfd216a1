package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pairpad/pairpad/metric"
)

// RequestLogger logs one line per handled request through the component
// logger.
func RequestLogger(logger *zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			evt := logger.Debug()
			if err != nil || status >= 500 {
				evt = logger.Error()
			} else if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("http request")
			return err
		}
	}
}

// Prometheus records request count and latency per route.
func Prometheus() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && status < 400 {
				status = 500
			}
			metric.RecordHTTPRequest(c.Request().Method, c.Path(), status, time.Since(start))
			return err
		}
	}
}
