package mediabuf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/liveview/internal/frame"
)

// fakeBuffer records appended segments and flags overlapping appends. When
// gate is non-nil every append blocks until a token is sent on it.
type fakeBuffer struct {
	gate    chan struct{}
	started chan struct{}
	failOn  int // 1-based append index that fails; 0 never

	mu       sync.Mutex
	segments [][]byte
	inFlight atomic.Int32
	overlap  atomic.Bool
	calls    atomic.Int32
}

func newFakeBuffer(gated bool) *fakeBuffer {
	b := &fakeBuffer{started: make(chan struct{}, 64)}
	if gated {
		b.gate = make(chan struct{})
	}
	return b
}

func (b *fakeBuffer) Append(ctx context.Context, segment []byte) error {
	if b.inFlight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inFlight.Add(-1)
	n := b.calls.Add(1)
	b.started <- struct{}{}

	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if int(n) == b.failOn {
		return errors.New("decode error")
	}
	b.mu.Lock()
	b.segments = append(b.segments, append([]byte(nil), segment...))
	b.mu.Unlock()
	return nil
}

func (b *fakeBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.segments))
	for i, s := range b.segments {
		out[i] = string(s)
	}
	return out
}

type fakeSource struct {
	buf         *fakeBuffer
	unsupported bool

	mu      sync.Mutex
	created int
	removed int
	modes   []Mode
}

func (s *fakeSource) IsTypeSupported(string) bool { return !s.unsupported }

func (s *fakeSource) AddSourceBuffer(_ string, mode Mode) (SourceBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.modes = append(s.modes, mode)
	return s.buf, nil
}

func (s *fakeSource) RemoveSourceBuffer(SourceBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed++
	return nil
}

func (s *fakeSource) counts() (created, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, s.removed
}

// fakeFetcher counts fetches per id. When block is non-nil, fetches wait
// for it to close or for ctx to end.
type fakeFetcher struct {
	block   chan struct{}
	started chan string
	err     error

	mu  sync.Mutex
	ids []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{started: make(chan string, 64)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	f.started <- id
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("init:" + id), nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func liveHeader(contentType, id string) frame.Header {
	var h frame.Header
	if contentType != "" {
		h.Add(frame.HeaderContentType, contentType)
	}
	if id != "" {
		h.Add(frame.HeaderSampleEntrySHA1, id)
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}
