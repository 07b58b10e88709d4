package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mho/internal/hub"
	"mho/internal/logging"
	"mho/internal/manifest"
	"mho/internal/sse"
	"mho/internal/version"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var fixedModTime = time.Unix(1700000000, 0)

type testDirs struct {
	project     string
	deps        string
	worker      string
	scaffolding string
}

func newTestDirs(t *testing.T) testDirs {
	t.Helper()
	base := t.TempDir()
	dirs := testDirs{
		project:     filepath.Join(base, "project"),
		deps:        filepath.Join(base, "deps"),
		worker:      filepath.Join(base, "worker"),
		scaffolding: filepath.Join(base, "scaffolding"),
	}
	for _, dir := range []string{dirs.project, dirs.deps, dirs.worker, dirs.scaffolding} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return dirs
}

func writeFixedFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	if err := os.Chtimes(path, fixedModTime, fixedModTime); err != nil {
		t.Fatalf("chtimes %s: %v", rel, err)
	}
}

func newChangesHub() *hub.Hub[sse.Message] {
	return hub.New(hub.Options[sse.Message]{
		Name:      "test",
		Capacity:  8,
		Heartbeat: sse.Ping(),
		Logger:    logging.Discard(),
	})
}

func newTestServer(t *testing.T, options Options) *httptest.Server {
	t.Helper()
	if options.Changes == nil {
		options.Changes = newChangesHub()
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	handler, err := NewHandler(options)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		options.Changes.Close()
		server.Close()
	})
	return server
}

func serverOptions(dirs testDirs) Options {
	return Options{
		ProjectRoot:    dirs.project,
		DepsDir:        dirs.deps,
		WorkerDir:      dirs.worker,
		ScaffoldingDir: dirs.scaffolding,
	}
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func waitForSubscribers(t *testing.T, changes *hub.Hub[sse.Message], want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if changes.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers, got %d", want, changes.Count())
}

func changeMessage(t *testing.T, id, data string) sse.Message {
	t.Helper()
	message, err := sse.NewMessage(sse.Fields{Event: "change", ID: id, Data: data})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	return message
}

func TestNewHandlerRequiresHub(t *testing.T) {
	if _, err := NewHandler(Options{}); !errors.Is(err, errMissingChanges) {
		t.Fatalf("expected errMissingChanges, got %v", err)
	}
}

func TestBootstrapPage(t *testing.T) {
	server := newTestServer(t, serverOptions(newTestDirs(t)))

	resp := get(t, server.URL+"/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Server"); got != version.ServerHeader() {
		t.Fatalf("expected server header %q, got %q", version.ServerHeader(), got)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("expected html content type, got %q", got)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, `src="/mho-client.js"`) {
		t.Fatalf("expected client script in bootstrap page, got %q", body)
	}
}

func TestProjectFileETagAndNotModified(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.project, "app.js", "console.log(1)")
	server := newTestServer(t, serverOptions(dirs))

	resp := get(t, server.URL+"/app.js", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Etag"); got != `"1700000000"` {
		t.Fatalf("expected etag \"1700000000\", got %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "" {
		t.Fatalf("expected no cache-control with etag, got %q", got)
	}
	if got := resp.Header.Get("Server"); got != version.ServerHeader() {
		t.Fatalf("expected server header, got %q", got)
	}
	if body := readBody(t, resp); body != "console.log(1)" {
		t.Fatalf("expected file body, got %q", body)
	}

	conditional := get(t, server.URL+"/app.js", map[string]string{"If-None-Match": `"1700000000"`})
	if conditional.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", conditional.StatusCode)
	}

	stale := get(t, server.URL+"/app.js", map[string]string{"If-None-Match": `"1600000000"`})
	if stale.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for stale etag, got %d", stale.StatusCode)
	}
}

func TestDepsAreImmutable(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.deps, "lit/index.js", "export {}")
	server := newTestServer(t, serverOptions(dirs))

	resp := get(t, server.URL+"/deps/lit/index.js", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=604800" {
		t.Fatalf("expected immutable cache-control, got %q", got)
	}
	if got := resp.Header.Get("Etag"); got != "" {
		t.Fatalf("expected no etag on immutable response, got %q", got)
	}
}

func TestScaffoldingHasNoCachePolicy(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.scaffolding, "style.css", "body{}")
	server := newTestServer(t, serverOptions(dirs))

	resp := get(t, server.URL+"/scaffolding/style.css", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Etag"); got != "" {
		t.Fatalf("expected no etag, got %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "" {
		t.Fatalf("expected no cache-control, got %q", got)
	}
}

func TestWorkerScriptsServedWithETag(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.worker, "mho-client.js", "client")
	writeFixedFile(t, dirs.worker, "mho-worker.js", "worker")
	server := newTestServer(t, serverOptions(dirs))

	for path, want := range map[string]string{"/mho-client.js": "client", "/mho-worker.js": "worker"} {
		resp := get(t, server.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("Etag"); got != `"1700000000"` {
			t.Fatalf("expected etag for %s, got %q", path, got)
		}
		if body := readBody(t, resp); body != want {
			t.Fatalf("expected %q for %s, got %q", want, path, body)
		}
	}
}

func TestUnsetMountsAndMissingFilesAreNotFound(t *testing.T) {
	dirs := newTestDirs(t)
	if err := os.MkdirAll(filepath.Join(dirs.project, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	server := newTestServer(t, Options{ProjectRoot: dirs.project})

	for _, path := range []string{"/missing.js", "/src", "/src/", "/mho-client.js", "/deps/x.js", "/scaffolding/x.css"} {
		resp := get(t, server.URL+path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("Server"); got != version.ServerHeader() {
			t.Fatalf("expected server header on 404 for %s, got %q", path, got)
		}
	}
}

func TestOpenFileRejectsEscapes(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, filepath.Dir(dirs.project), "secret.txt", "secret")

	for _, urlPath := range []string{"/../secret.txt", "../secret.txt", "/"} {
		if _, err := openFile(dirs.project, urlPath, cacheETag); err == nil {
			t.Fatalf("expected error for %q", urlPath)
		}
	}
}

func TestManifestJSON(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.project, "app.js", "x")
	writeFixedFile(t, dirs.project, ".git/config", "x")
	writeFixedFile(t, dirs.project, "node_modules/pkg/index.js", "x")
	server := newTestServer(t, serverOptions(dirs))

	resp := get(t, server.URL+"/manifest", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("expected identity encoding, got %q", got)
	}
	var payload manifest.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if got := payload.Files["/app.js"]; got != "1700000000" {
		t.Fatalf("expected /app.js token 1700000000, got %q", got)
	}
	if len(payload.Files) != 1 {
		t.Fatalf("expected 1 file, got %v", payload.Files)
	}
	if _, status := payload.Lookup("/node_modules/pkg/index.js"); status != manifest.StatusExcluded {
		t.Fatalf("expected node_modules excluded, got %s", status)
	}
	if _, status := payload.Lookup("/.git/config"); status != manifest.StatusExcluded {
		t.Fatalf("expected .git excluded, got %s", status)
	}
}

func TestManifestZstd(t *testing.T) {
	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.project, "app.js", "x")
	server := newTestServer(t, serverOptions(dirs))

	req, err := http.NewRequest(http.MethodGet, server.URL+"/manifest", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Encoding"); got != "zstd" {
		t.Fatalf("expected zstd encoding, got %q", got)
	}
	if got := resp.Header.Get("Vary"); got != "Accept-Encoding" {
		t.Fatalf("expected Vary Accept-Encoding, got %q", got)
	}
	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()
	plain, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		t.Fatalf("decode zstd: %v", err)
	}
	var payload manifest.Manifest
	if err := json.Unmarshal(plain, &payload); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if got := payload.Files["/app.js"]; got != "1700000000" {
		t.Fatalf("expected /app.js token, got %q", got)
	}
}

func TestManifestMissingRoot(t *testing.T) {
	server := newTestServer(t, Options{ProjectRoot: filepath.Join(t.TempDir(), "gone")})

	resp := get(t, server.URL+"/manifest", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestAcceptsEncoding(t *testing.T) {
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"gzip", false},
		{"zstd", true},
		{"gzip, ZSTD", true},
		{"br;q=1.0, zstd;q=0.5", true},
		{"zstd;q=0", false},
		{"zstd;q=0.000", false},
		{"zstdx", false},
	}
	for _, tc := range cases {
		if got := acceptsEncoding(tc.header, "zstd"); got != tc.want {
			t.Fatalf("expected %v for %q, got %v", tc.want, tc.header, got)
		}
	}
}

func TestEventsStreamDeliversChanges(t *testing.T) {
	changes := newChangesHub()
	options := serverOptions(newTestDirs(t))
	options.Changes = changes
	server := newTestServer(t, options)

	resp := get(t, server.URL+"/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("expected no-cache, got %q", got)
	}
	if got := resp.Header.Get("Expires"); got != "0" {
		t.Fatalf("expected Expires 0, got %q", got)
	}
	if changes.Count() != 1 {
		t.Fatalf("expected subscription before headers, got %d", changes.Count())
	}

	reader := sse.NewReader(resp.Body)
	retry, err := reader.Next()
	if err != nil {
		t.Fatalf("read retry: %v", err)
	}
	if retry.Retry() != defaultSSERetryInterval {
		t.Fatalf("expected retry %s, got %s", defaultSSERetryInterval, retry.Retry())
	}

	changes.Publish(changeMessage(t, "1", `{"kind":"modified","path":"/app.js"}`))
	changes.Publish(sse.Ping())

	first, err := reader.Next()
	if err != nil {
		t.Fatalf("read change: %v", err)
	}
	if first.Event() != "change" || first.ID() != "1" || first.Data() != `{"kind":"modified","path":"/app.js"}` {
		t.Fatalf("unexpected change message: event=%q id=%q data=%q", first.Event(), first.ID(), first.Data())
	}
	second, err := reader.Next()
	if err != nil {
		t.Fatalf("read ping: %v", err)
	}
	if !second.IsPing() {
		t.Fatalf("expected ping, got %q", second.Data())
	}
}

func TestEventsStreamEndsWhenHubCloses(t *testing.T) {
	changes := newChangesHub()
	options := serverOptions(newTestDirs(t))
	options.Changes = changes
	server := newTestServer(t, options)

	resp := get(t, server.URL+"/events", nil)
	reader := sse.NewReader(resp.Body)
	if _, err := reader.Next(); err != nil {
		t.Fatalf("read retry: %v", err)
	}

	changes.Close()
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after hub close, got %v", err)
	}
}

func TestEventsDisconnectIsPrunedBySweep(t *testing.T) {
	changes := newChangesHub()
	options := serverOptions(newTestDirs(t))
	options.Changes = changes
	server := newTestServer(t, options)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	waitForSubscribers(t, changes, 1)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		changes.Sweep()
		if changes.Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected disconnected subscription to be pruned, got %d", changes.Count())
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + routeEventsWS
}

func TestWebSocketStreamDeliversChangesAndPings(t *testing.T) {
	changes := newChangesHub()
	options := serverOptions(newTestDirs(t))
	options.Changes = changes
	server := newTestServer(t, options)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, changes, 1)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	changes.Publish(sse.Ping())
	changes.Publish(changeMessage(t, "7", `{"kind":"created","path":"/new.js"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope wsEnvelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if envelope.Event != "change" || envelope.ID != "7" || envelope.Data != `{"kind":"created","path":"/new.js"}` {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	select {
	case <-pinged:
	default:
		t.Fatalf("expected ping control frame before the change")
	}

	changes.Close()
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	server := newTestServer(t, serverOptions(newTestDirs(t)))

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	cases := []struct {
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"", "localhost:8000", nil, true},
		{"http://localhost:8000", "localhost:8000", nil, true},
		{"http://evil.example", "localhost:8000", nil, false},
		{"http://[::1]:8000", "[::1]:8000", nil, true},
		{"http://app.test", "localhost:8000", []string{"app.test"}, true},
		{"http://app.test", "localhost:8000", []string{"http://app.test"}, true},
		{"http://localhost:8000", "localhost:8000", []string{"app.test"}, false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := isOriginAllowed(req, tc.allowed); got != tc.want {
			t.Fatalf("expected %v for origin %q host %q, got %v", tc.want, tc.origin, tc.host, got)
		}
	}
}

func TestRoutesLabelTelemetry(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	dirs := newTestDirs(t)
	writeFixedFile(t, dirs.project, "app.js", "x")
	options := serverOptions(dirs)
	options.Tracer = provider.Tracer("test")
	server := newTestServer(t, options)

	for _, path := range []string{"/manifest", "/app.js", "/deps/missing.js"} {
		readBody(t, get(t, server.URL+path, nil))
	}

	routes := make(map[string]int64)
	for _, span := range recorder.Ended() {
		var route string
		var status int64
		for _, attr := range span.Attributes() {
			switch attr.Key {
			case attribute.Key("http.route"):
				route = attr.Value.AsString()
			case attribute.Key("http.status_code"):
				status = attr.Value.AsInt64()
			}
		}
		routes[route] = status
	}
	want := map[string]int64{
		routeManifest: http.StatusOK,
		routeProject:  http.StatusOK,
		routeDeps:     http.StatusNotFound,
	}
	for route, status := range want {
		if got, ok := routes[route]; !ok || got != status {
			t.Fatalf("expected route %s with status %d, got %v", route, status, routes)
		}
	}
}

func TestWebSocketSpanNestsUnderRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	changes := newChangesHub()
	options := serverOptions(newTestDirs(t))
	options.Changes = changes
	options.Tracer = provider.Tracer("test")
	server := newTestServer(t, options)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, changes, 1)
	changes.Close()
	_, _, _ = conn.ReadMessage()

	deadline := time.Now().Add(2 * time.Second)
	for {
		spans := make(map[string]sdktrace.ReadOnlySpan)
		for _, span := range recorder.Ended() {
			spans[span.Name()] = span
		}
		request, requestEnded := spans["http.request"]
		stream, streamEnded := spans["ws.connect"]
		if requestEnded && streamEnded {
			if stream.Parent().SpanID() != request.SpanContext().SpanID() {
				t.Fatalf("expected ws.connect parent %s, got %s", request.SpanContext().SpanID(), stream.Parent().SpanID())
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected request and stream spans from the injected tracer, got %v", spans)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoggingMiddlewareLogsAtDebug(t *testing.T) {
	var buffer bytes.Buffer
	logger := logging.NewLoggerWithOutput(logging.LevelDebug, &buffer)

	handler := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/app.js", nil))

	if !strings.Contains(buffer.String(), `msg="http request"`) || !strings.Contains(buffer.String(), `path="/app.js"`) {
		t.Fatalf("expected request log line, got %q", buffer.String())
	}
}
