package webhook

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	logx "fluxhook/pkg/logx"
)

// rawBodyKey holds the exact request bytes the signature is computed over.
const rawBodyKey = "raw_body"

// DefaultBodyLimit matches the largest payload Miniflux is expected to send.
const DefaultBodyLimit = 1 << 20

// captureRawBody reads the whole body (up to limit bytes) into the echo
// context before anything parses it, then replays it for later readers.
func captureRawBody(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > limit {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}
			raw, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
			if err != nil {
				var mbe *http.MaxBytesError
				if errors.As(err, &mbe) {
					return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
				}
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
			}
			if int64(len(raw)) > limit {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(raw))
			c.Set(rawBodyKey, raw)
			return next(c)
		}
	}
}

func rawBody(c echo.Context) ([]byte, bool) {
	raw, ok := c.Get(rawBodyKey).([]byte)
	return raw, ok
}

// requestLogger writes one access line per request through logx.
func requestLogger(log logx.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/healthz" || p == "/metrics" || p == "/ping"
		},
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logx.Field{
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
				logx.String("remote_ip", v.RemoteIP),
			}
			switch {
			case v.Status >= 500:
				log.Error("request failed", append(fields, logx.Err(v.Error))...)
			case v.Status >= 400:
				log.Warn("request rejected", fields...)
			default:
				log.Info("request completed", fields...)
			}
			return nil
		},
	})
}
