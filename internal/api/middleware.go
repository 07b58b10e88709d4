package api

import (
	"net/http"

	"mho/internal/logging"
	"mho/internal/version"
)

const (
	cacheControlNoCache   = "no-cache"
	cacheControlImmutable = "public, max-age=604800"
)

func setSecurityHeaders(w http.ResponseWriter, cacheControl string) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", "nosniff")
	if cacheControl != "" {
		headers.Set("Cache-Control", cacheControl)
	}
}

// serverHeaderMiddleware stamps every response, including 404s from the mux.
func serverHeaderMiddleware(next http.Handler) http.Handler {
	server := version.ServerHeader()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", server)
		setSecurityHeaders(w, "")
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger != nil && logger.Enabled(logging.LevelDebug) {
			logger.Debug("http request", map[string]string{
				"method": r.Method,
				"path":   r.URL.Path,
			})
		}
		next.ServeHTTP(w, r)
	})
}
