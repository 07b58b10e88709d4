package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mho/internal/hub"
	"mho/internal/logging"
	"mho/internal/otel"
	"mho/internal/sse"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// eventsSSEHandler streams the change hub as text/event-stream. Each request
// holds one subscription for its lifetime; the hub prunes it at the next
// sweep once the handler returns.
type eventsSSEHandler struct {
	changes *hub.Hub[sse.Message]
	retry   time.Duration
	logger  *logging.Logger
	tracer  trace.Tracer
}

func (h *eventsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.StartStreamSpan(r, h.tracer, "sse.connect", routeEvents)
	defer span.End()

	sub := h.changes.Subscribe()
	defer sub.Close()
	span.SetAttributes(attribute.Int64("mho.subscription.id", int64(sub.ID())))

	flusher, err := startSSEWriter(w)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeSSEHTTPError(w, r, h.logger, sseError{
			Status:  http.StatusInternalServerError,
			Message: "sse stream unavailable",
			Err:     err,
		})
		return
	}

	if h.retry > 0 {
		retry, _ := sse.NewMessage(sse.Fields{Retry: h.retry})
		if _, err := w.Write(retry.Encode()); err != nil {
			return
		}
		flusher.Flush()
	}

	h.logger.Debug("event stream opened", map[string]string{
		"subscription": strconv.FormatUint(sub.ID(), 10),
		"remote_addr":  r.RemoteAddr,
	})

	err = sse.Pump(ctx, sse.NewEncoder(sub.C()), w, flusher.Flush)
	var reason string
	switch {
	case err == nil:
		reason = "stream ended"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "client disconnected"
	default:
		reason = "write failed"
		span.RecordError(err)
	}
	otel.RecordSpanEvent(ctx, "sse.closed", attribute.String("reason", reason))
	h.logger.Debug("event stream closed", map[string]string{
		"subscription": strconv.FormatUint(sub.ID(), 10),
		"reason":       reason,
		"dropped":      strconv.FormatUint(sub.Dropped(), 10),
	})
}
