// Package webhook is the inbound HTTP surface: it authenticates Miniflux
// webhook calls, turns new entries into batches and queues them for
// delivery.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "fluxhook/pkg/logx"
)

const (
	DefaultPath            = "/webhook"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

type Config struct {
	Host string
	Port int
	// Path is the route Miniflux posts to.
	Path   string
	Secret string
	// BodyLimit caps the captured request body in bytes.
	BodyLimit      int64
	RequestTimeout time.Duration
	// AwaitDelivery holds the response until every queued batch is sent.
	AwaitDelivery   bool
	ShutdownTimeout time.Duration
}

// HealthFunc reports component state for /healthz.
type HealthFunc func() map[string]any

type Server struct {
	cfg     Config
	secret  []byte
	e       *echo.Echo
	builder Builder
	queue   Enqueuer
	health  HealthFunc
	log     logx.Logger
}

func New(cfg Config, builder Builder, queue Enqueuer, health HealthFunc, log logx.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg,
		secret:  []byte(cfg.Secret),
		builder: builder,
		queue:   queue,
		health:  health,
		log:     log,
	}
	s.e = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newPayloadValidator()

	e.Use(middleware.Recover())
	e.Use(requestLogger(s.log))

	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "Hello, world!") })
	e.GET("/ping", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]bool{"ok": true}) })
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST(s.cfg.Path, s.handleWebhook, captureRawBody(s.cfg.BodyLimit))
	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	return c.JSON(http.StatusOK, body)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// ready is called once the listener is bound.
func (s *Server) ListenAndServe(ctx context.Context, ready func(addr net.Addr)) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("webhook: listen %s: %w", s.Addr(), err)
	}
	s.e.Listener = ln
	s.e.Server.ReadHeaderTimeout = 10 * time.Second

	errCh := make(chan error, 1)
	go func() { errCh <- s.e.Start("") }()

	s.log.Info("listening", logx.String("addr", ln.Addr().String()), logx.String("path", s.cfg.Path))
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
