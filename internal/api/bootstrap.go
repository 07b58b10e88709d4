package api

import (
	"io"
	"net/http"
)

// bootstrapPage registers the client script, which installs the service
// worker and reloads into the project.
const bootstrapPage = `<!DOCTYPE html><body data-launching-service-worker><script type="module" src="/mho-client.js"></script>Launching service worker...</body>`

func serveBootstrap(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w, cacheControlNoCache)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, bootstrapPage)
}
