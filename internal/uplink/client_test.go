package uplink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
)

const samplePackument = `{
	"name": "foo",
	"versions": {
		"1.0.0": {
			"name": "foo",
			"version": "1.0.0",
			"dist": {"tarball": "http://upstream/foo/-/foo-1.0.0.tgz", "shasum": "abc"}
		}
	},
	"dist-tags": {"latest": "1.0.0"}
}`

func TestFetchManifestAnnotatesVersions(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/foo" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Etag", `"rev-1"`)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, samplePackument)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "npmjs")
	result, err := client.FetchManifest(context.Background(), "foo", "")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Etag != `"rev-1"` {
		t.Fatalf("etag not captured: %s", result.Etag)
	}
	if result.Manifest.Versions["1.0.0"].Uplink != "npmjs" {
		t.Fatalf("version not annotated with uplink")
	}
	if record, ok := result.Manifest.Uplinks["npmjs"]; !ok || record.Etag != `"rev-1"` || record.Fetched == 0 {
		t.Fatalf("uplink cache record missing: %+v", result.Manifest.Uplinks)
	}
}

func TestFetchManifestConditionalGet(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"rev-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"rev-1"`)
		io.WriteString(w, samplePackument)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "npmjs")
	result, err := client.FetchManifest(context.Background(), "foo", `"rev-1"`)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if !result.NotModified {
		t.Fatalf("expected not-modified result")
	}
	if result.Etag != `"rev-1"` {
		t.Fatalf("etag must be preserved on 304: %s", result.Etag)
	}
}

func TestFetchManifestNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "npmjs")
	_, err := client.FetchManifest(context.Background(), "ghost", "")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	// 404 不触发熔断。
	if !client.breaker.Ready() {
		t.Fatalf("breaker must stay closed on 404")
	}
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "flaky")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.FetchManifest(ctx, "foo", ""); !model.IsKind(err, model.KindUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}

	if client.breaker.Ready() {
		t.Fatalf("breaker should be open after %d failures", 2)
	}
	_, err := client.FetchManifest(ctx, "foo", "")
	if !model.IsKind(err, model.KindUnavailable) {
		t.Fatalf("open breaker must fail fast with unavailable, got %v", err)
	}
}

func TestFetchTarballStreamsAndReportsProgress(t *testing.T) {
	payload := []byte("tarball-bytes")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "npmjs")

	var lastWritten int64
	stream, err := client.FetchTarball(context.Background(), upstream.URL+"/foo/-/foo-1.0.0.tgz", func(written, total int64) {
		lastWritten = written
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload mismatch: %q", data)
	}
	if lastWritten != int64(len(payload)) {
		t.Fatalf("progress not reported: %d", lastWritten)
	}
}

func TestFetchTarballContentMismatch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		flusher := w.(http.Flusher)
		io.WriteString(w, "short")
		flusher.Flush()
		// 挂断连接，实际传输字节数少于声明值。
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "npmjs")
	stream, err := client.FetchTarball(context.Background(), upstream.URL+"/foo.tgz", nil)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	defer stream.Close()

	_, readErr := io.ReadAll(stream)
	if readErr == nil {
		t.Fatalf("expected read error on truncated body")
	}
}

func TestFetchManifestTimeout(t *testing.T) {
	blocked := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer upstream.Close()
	defer close(blocked)

	client := newTestClient(t, upstream.URL, "slow")
	client.client.Timeout = 50 * time.Millisecond

	_, err := client.FetchManifest(context.Background(), "foo", "")
	if !model.IsKind(err, model.KindUnavailable) {
		t.Fatalf("expected unavailable on timeout, got %v", err)
	}
}

// newTestClient builds a Client pointed at the given httptest server.
func newTestClient(t *testing.T, rawURL, name string) *Client {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := New(Options{
		Name:       name,
		URL:        parsed,
		Cache:      true,
		Timeout:    2 * time.Second,
		MaxFails:   2,
		FailWindow: time.Minute,
	}, logger)
	// httptest 使用回环地址，直连即可。
	client.client.Transport = http.DefaultTransport
	return client
}
