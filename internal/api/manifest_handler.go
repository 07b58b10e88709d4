package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"mho/internal/logging"
	"mho/internal/manifest"

	"github.com/klauspost/compress/zstd"
)

const encodingZstd = "zstd"

type manifestHandler struct {
	root       string
	compressor *zstd.Encoder
	logger     *logging.Logger
}

func (h *manifestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	built, err := manifest.Build(h.root)
	if err != nil {
		h.logger.Error("manifest build failed", map[string]string{
			"root":  h.root,
			"error": err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "manifest unavailable"})
		return
	}

	body, err := json.Marshal(built)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "manifest unavailable"})
		return
	}

	setSecurityHeaders(w, cacheControlNoCache)
	headers := w.Header()
	headers.Set("Content-Type", "application/json; charset=utf-8")
	headers.Add("Vary", "Accept-Encoding")
	if h.compressor != nil && acceptsEncoding(r.Header.Get("Accept-Encoding"), encodingZstd) {
		body = h.compressor.EncodeAll(body, make([]byte, 0, len(body)/2))
		headers.Set("Content-Encoding", encodingZstd)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

// acceptsEncoding reports whether an Accept-Encoding value admits coding.
// A q value of zero refuses it.
func acceptsEncoding(header, coding string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), coding) {
			continue
		}
		for _, param := range strings.Split(params, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
				continue
			}
			value = strings.TrimRight(strings.TrimSpace(value), "0")
			if value == "" || value == "0." || value == "0" {
				return false
			}
		}
		return true
	}
	return false
}
