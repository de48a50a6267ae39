package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/dispatch"
)

func TestDownloaderCompletesAndCapturesMetadata(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10_000)
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "video/mp4; codecs=avc1")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	h := newHarness(t)
	var meta Metadata
	completions := 0
	done := make(chan []byte, 1)
	dl := h.downloader(srv.URL, Events{
		OnResponse: func(m Metadata) { meta = m },
		OnComplete: func(buf []byte) {
			completions++
			done <- append([]byte(nil), buf...)
		},
	})
	h.run(dl.Start)

	buf := waitBytes(t, done)
	if !bytes.Equal(buf, payload) {
		t.Fatalf("buffer mismatch: got %d bytes", len(buf))
	}
	h.run(func() {
		if dl.State() != StateCompleted {
			t.Errorf("expected completed, got %s", dl.State())
		}
		if meta.ContentType != "video/mp4" {
			t.Errorf("content type should drop params, got %q", meta.ContentType)
		}
		if meta.ContentLength != int64(len(payload)) {
			t.Errorf("unexpected content length %d", meta.ContentLength)
		}
		if !dl.Has(0, int64(len(payload))) || dl.Has(1, int64(len(payload))) {
			t.Errorf("Has does not reflect buffer length")
		}
		if got := dl.Bytes(10, 5); string(got) != "01234" {
			t.Errorf("unexpected slice %q", got)
		}
		dl.Start()
		if dl.State() != StateCompleted {
			t.Errorf("completed downloader must not restart")
		}
	})
	if completions != 1 {
		t.Fatalf("completion should fire exactly once, got %d", completions)
	}
	if gotHeaders.Get("Cache-Control") != "no-cache" || gotHeaders.Get("Pragma") != "no-cache" {
		t.Fatalf("transfer must disable caching, headers=%v", gotHeaders)
	}
}

func TestDownloaderFailsOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t)
	failed := make(chan error, 1)
	completed := false
	dl := h.downloader(srv.URL, Events{
		OnComplete: func([]byte) { completed = true },
		OnError:    func(err error) { failed <- err },
	})
	h.run(dl.Start)

	select {
	case err := <-failed:
		if !errors.Is(err, ErrUnexpectedStatus) {
			t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
	h.run(func() {
		if dl.State() != StateFailed {
			t.Errorf("expected failed state, got %s", dl.State())
		}
		if completed {
			t.Errorf("failed transfer must not complete")
		}
		if _, ok := dl.Metadata(); ok {
			t.Errorf("error response must not provide metadata")
		}
	})
}

func TestDownloaderCancelDiscardsBuffer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "200")
		_, _ = w.Write(make([]byte, 100))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h := newHarness(t)
	chunk := make(chan struct{}, 16)
	var calls int
	dl := h.downloader(srv.URL, Events{
		OnChunk:    func() { calls++; chunk <- struct{}{} },
		OnComplete: func([]byte) { t.Errorf("cancelled transfer must not complete") },
		OnError:    func(error) { t.Errorf("cancelled transfer must not report errors") },
	})
	h.run(dl.Start)

	select {
	case <-chunk:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}
	h.run(func() {
		dl.Cancel()
		if dl.State() != StateCancelled {
			t.Errorf("expected cancelled, got %s", dl.State())
		}
		if dl.Len() != 0 || dl.Active() {
			t.Errorf("cancel should discard buffer and stop transfer")
		}
	})
	time.Sleep(50 * time.Millisecond)
	h.run(func() {})
}

func TestDownloaderRestartsAfterFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = io.WriteString(w, "second-attempt")
	}))
	defer srv.Close()

	h := newHarness(t)
	failed := make(chan struct{}, 1)
	done := make(chan []byte, 1)
	dl := h.downloader(srv.URL, Events{
		OnError:    func(error) { failed <- struct{}{} },
		OnComplete: func(buf []byte) { done <- append([]byte(nil), buf...) },
	})
	h.run(dl.Start)
	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
	h.run(dl.Start)
	if got := waitBytes(t, done); string(got) != "second-attempt" {
		t.Fatalf("unexpected body %q", got)
	}
}

type harness struct {
	t     *testing.T
	queue *dispatch.Queue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	q := dispatch.NewQueue()
	t.Cleanup(q.Close)
	return &harness{t: t, queue: q}
}

func (h *harness) downloader(url string, events Events) *Downloader {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(Options{
		URL:       url,
		Post:      h.queue.Async,
		Logger:    logger,
		Events:    events,
		ChunkSize: 4096,
	})
}

func (h *harness) run(fn func()) {
	h.t.Helper()
	if err := h.queue.Sync(context.Background(), fn); err != nil {
		h.t.Fatalf("queue sync failed: %v", err)
	}
}

func waitBytes(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case buf := <-ch:
		return buf
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}
