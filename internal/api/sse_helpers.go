package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mho/internal/logging"
)

const defaultSSERetryInterval = 5 * time.Second

var errSSENoFlusher = errors.New("sse response writer does not support flushing")

type sseError struct {
	Status  int
	Message string
	Err     error
}

// startSSEWriter sends the event-stream headers and commits the response.
func startSSEWriter(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errSSENoFlusher
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", cacheControlNoCache)
	headers.Set("Expires", "0")
	headers.Set("X-Accel-Buffering", "no")

	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, nil
}

func writeSSEHTTPError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, sseErr sseError) {
	status := sseErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	reason := strings.TrimSpace(sseErr.Message)
	if reason == "" {
		reason = http.StatusText(status)
		if reason == "" {
			reason = "sse error"
		}
	}

	logStreamError(logger, r, "sse", status, reason, sseErr.Err, nil)

	http.Error(w, reason, status)
}

// logStreamError records a failed stream request: server faults at error
// level, client faults at warn.
func logStreamError(logger *logging.Logger, r *http.Request, stream string, status int, message string, err error, extra map[string]string) {
	if logger == nil || r == nil {
		return
	}

	fields := map[string]string{
		"stream":  stream,
		"path":    r.URL.Path,
		"status":  strconv.Itoa(status),
		"message": message,
	}
	for key, value := range extra {
		fields[key] = value
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if userAgent := strings.TrimSpace(r.UserAgent()); userAgent != "" {
		fields["user_agent"] = userAgent
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.Error(stream+" stream error", fields)
	} else {
		logger.Warn(stream+" stream error", fields)
	}
}
