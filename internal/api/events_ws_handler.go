package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"mho/internal/hub"
	"mho/internal/logging"
	"mho/internal/otel"
	"mho/internal/sse"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// wsEnvelope is the JSON text frame for one change message.
type wsEnvelope struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Data  string `json:"data"`
}

// eventsWSHandler carries the change hub over a websocket. Heartbeats become
// ping control frames; everything else is a JSON text frame.
type eventsWSHandler struct {
	changes        *hub.Hub[sse.Message]
	allowedOrigins []string
	logger         *logging.Logger
	tracer         trace.Tracer
}

func (h *eventsWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.StartStreamSpan(r, h.tracer, "ws.connect", routeEventsWS)
	defer span.End()

	conn, err := upgradeWebSocket(w, r, h.allowedOrigins)
	if err != nil {
		// The upgrader has already answered with an HTTP error.
		logWSError(h.logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	sub := h.changes.Subscribe()
	defer sub.Close()
	span.SetAttributes(attribute.Int64("mho.subscription.id", int64(sub.ID())))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Inbound frames are discarded; the read loop exists to process control
	// frames and notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	reason := "client disconnected"
	defer func() {
		otel.RecordSpanEvent(ctx, "ws.closed", attribute.String("reason", reason))
		h.logger.Debug("websocket stream closed", map[string]string{
			"subscription": strconv.FormatUint(sub.ID(), 10),
			"reason":       reason,
			"dropped":      strconv.FormatUint(sub.Dropped(), 10),
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-sub.C():
			if !ok {
				reason = "stream ended"
				closeWS(conn, websocket.CloseGoingAway, reason)
				return
			}
			if err := writeWSMessage(conn, message); err != nil {
				reason = "write failed"
				span.RecordError(err)
				return
			}
		}
	}
}

func writeWSMessage(conn *websocket.Conn, message sse.Message) error {
	deadline := time.Now().Add(wsWriteTimeout)
	if message.IsPing() {
		return conn.WriteControl(websocket.PingMessage, nil, deadline)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteJSON(wsEnvelope{
		Event: message.Event(),
		ID:    message.ID(),
		Data:  message.Data(),
	})
}
