package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"fluxhook/internal/batcher"
	"fluxhook/internal/metrics"
	"fluxhook/internal/miniflux"
	"fluxhook/internal/notification"
	"fluxhook/internal/signature"
	logx "fluxhook/pkg/logx"
)

// Builder turns entries into ordered batches.
type Builder interface {
	Build(ctx context.Context, entries []miniflux.Entry, emit func(batcher.Result))
}

// Enqueuer hands batches to the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, b notification.Batch) (<-chan error, error)
}

type doneResponse struct {
	Done bool `json:"done"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) handleWebhook(c echo.Context) error {
	status, err := s.processWebhook(c)
	metrics.WebhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	return err
}

func (s *Server) processWebhook(c echo.Context) (int, error) {
	raw, captured := rawBody(c)
	err := signature.Check(s.secret, raw, captured, c.Request().Header.Get(signature.Header))
	switch {
	case err == nil:
	case errors.Is(err, signature.ErrMissingSignature):
		return reply(c, http.StatusBadRequest, errorResponse{Error: "missing signature"})
	case errors.Is(err, signature.ErrMissingRawBody):
		s.log.Error("raw request body was not captured; check middleware wiring")
		return reply(c, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	default:
		return reply(c, http.StatusForbidden, errorResponse{Error: "invalid signature"})
	}

	ev, err := s.decode(c, raw)
	if err != nil {
		resp := errorResponse{Error: "invalid payload"}
		var verr *ValidationError
		if errors.As(err, &verr) {
			resp.Fields = verr.Fields
		}
		s.log.Debug("payload rejected", logx.Err(err))
		return reply(c, http.StatusBadRequest, resp)
	}

	log := s.log.With(logx.Int64("feed_id", ev.Feed.ID))
	log.Info("new entries received", logx.Int("entries", len(ev.Entries)), logx.String("feed", ev.Feed.Title))

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.RequestTimeout)
	defer cancel()

	failed := 0
	var pending []<-chan error
	s.builder.Build(ctx, ev.Entries, func(r batcher.Result) {
		if r.Err != nil {
			failed++
			return
		}
		done, err := s.queue.Enqueue(ctx, r.Batch)
		if err != nil {
			failed++
			log.Warn("batch not queued", logx.Int("batch", r.Index), logx.Err(err))
			return
		}
		pending = append(pending, done)
	})

	if s.cfg.AwaitDelivery {
		for _, done := range pending {
			select {
			case err := <-done:
				if err != nil {
					failed++
				}
			case <-ctx.Done():
				failed++
			}
		}
	}

	if failed > 0 {
		log.Warn("webhook partially processed", logx.Int("failed_batches", failed))
		return reply(c, http.StatusBadGateway, doneResponse{Done: false})
	}
	return reply(c, http.StatusOK, doneResponse{Done: true})
}

// decode routes on event_type before decoding the concrete event.
func (s *Server) decode(c echo.Context, raw []byte) (*miniflux.NewEntriesEvent, error) {
	var env miniflux.EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("body is not a JSON object")
	}
	switch env.EventType {
	case miniflux.EventNewEntries:
	case "":
		return nil, invalid("missing event_type")
	default:
		return nil, invalid("unsupported event_type %q", env.EventType)
	}

	var ev miniflux.NewEntriesEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, invalid("malformed new_entries payload")
	}
	if err := c.Validate(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func reply(c echo.Context, status int, body any) (int, error) {
	return status, c.JSON(status, body)
}
