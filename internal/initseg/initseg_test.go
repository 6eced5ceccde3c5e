package initseg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T, h http.Handler) *HTTPFetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	f, err := NewHTTPFetcher(HTTPFetcherConfig{BaseURL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	return f
}

func TestFetchHappyPath(t *testing.T) {
	t.Parallel()
	var gotPath string
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("ftypmoov"))
	}))

	data, err := f.Fetch(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ftypmoov" {
		t.Errorf("data = %q, want %q", data, "ftypmoov")
	}
	if gotPath != "/api/init/abcd.mp4" {
		t.Errorf("path = %q, want /api/init/abcd.mp4", gotPath)
	}
}

func TestFetchURLKeepsBasePath(t *testing.T) {
	t.Parallel()
	f, err := NewHTTPFetcher(HTTPFetcherConfig{BaseURL: "https://nvr.example.com/prefix/"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := f.URL("abcd"), "https://nvr.example.com/prefix/api/init/abcd.mp4"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()
	f := newTestFetcher(t, http.NotFoundHandler())

	_, err := f.Fetch(context.Background(), "abcd")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", se.StatusCode)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	t.Parallel()
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	if _, err := f.Fetch(context.Background(), "abcd"); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestFetchRejectsBadIDs(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	if _, err := f.Fetch(context.Background(), ""); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id: err = %v, want ErrEmptyID", err)
	}
	if _, err := f.Fetch(context.Background(), "../etc"); !errors.Is(err, ErrBadID) {
		t.Errorf("path id: err = %v, want ErrBadID", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times, want 0", hits.Load())
	}
}

func TestFetchCollapsesConcurrentRequests(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	release := make(chan struct{})
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte("init"))
	}))

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := f.Fetch(context.Background(), "beef")
			if err == nil && string(data) != "init" {
				err = errors.New("unexpected data " + string(data))
			}
			errs <- err
		}()
	}

	// Wait for the single request to reach the server before releasing it.
	deadline := time.After(5 * time.Second)
	for hits.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("request never reached server")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestFetchCallerCancel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("init"))
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, "abcd")
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch did not return after cancel")
	}
}

func TestNewHTTPFetcherValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  HTTPFetcherConfig
	}{
		{"missing base", HTTPFetcherConfig{}},
		{"websocket scheme", HTTPFetcherConfig{BaseURL: "ws://nvr"}},
		{"http3 over http", HTTPFetcherConfig{BaseURL: "http://nvr", HTTP3: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewHTTPFetcher(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewHTTPFetcherHTTP3Transport(t *testing.T) {
	t.Parallel()
	f, err := NewHTTPFetcher(HTTPFetcherConfig{BaseURL: "https://nvr.example.com", HTTP3: true})
	if err != nil {
		t.Fatal(err)
	}
	if f.h3 == nil {
		t.Fatal("expected an HTTP/3 transport")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
