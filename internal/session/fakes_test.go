package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/liveview/internal/frame"
	"github.com/zsiec/liveview/internal/mediabuf"
)

type message struct {
	typ  int
	data []byte
	err  error
}

// fakeConn delivers queued messages until closed.
type fakeConn struct {
	msgs      chan message
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan message, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return m.typ, m.data, m.err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(data []byte) {
	c.msgs <- message{typ: websocket.BinaryMessage, data: data}
}

// recordingBuffer records appended segments and flags overlap. Appends
// block on gate when it is non-nil.
type recordingBuffer struct {
	gate    chan struct{}
	overlap atomic.Bool
	active  atomic.Int32

	mu       sync.Mutex
	segments []string
}

func (b *recordingBuffer) Append(ctx context.Context, seg []byte) error {
	if b.active.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.active.Add(-1)
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	b.segments = append(b.segments, string(seg))
	b.mu.Unlock()
	return nil
}

func (b *recordingBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.segments...)
}

type recordingSource struct {
	buf         *recordingBuffer
	unsupported bool

	mu      sync.Mutex
	created int
	removed int
}

func (s *recordingSource) IsTypeSupported(string) bool { return !s.unsupported }

func (s *recordingSource) AddSourceBuffer(string, mediabuf.Mode) (mediabuf.SourceBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return s.buf, nil
}

func (s *recordingSource) RemoveSourceBuffer(mediabuf.SourceBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed++
	return nil
}

func (s *recordingSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, s.removed
}

type countingFetcher struct {
	block   chan struct{}
	started chan string
	err     error

	mu  sync.Mutex
	ids []string
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{started: make(chan string, 16)}
}

func (f *countingFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
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

func (f *countingFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type harness struct {
	conn    *fakeConn
	source  *recordingSource
	fetcher *countingFetcher
	session *Session

	fatalCount atomic.Int32
	fatal      chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn:    newFakeConn(),
		source:  &recordingSource{buf: &recordingBuffer{}},
		fetcher: newCountingFetcher(),
		fatal:   make(chan error, 4),
	}
	return h
}

// open creates and opens the harness session. Call after adjusting fakes.
func (h *harness) open(t *testing.T) {
	t.Helper()
	h.session = New(Config{
		Key: "cam1",
		Dialer: DialerFunc(func(context.Context, string) (Conn, error) {
			return h.conn, nil
		}),
		Source:  h.source,
		Fetcher: h.fetcher,
		OnFatal: func(err error) {
			h.fatalCount.Add(1)
			h.fatal <- err
		},
	})
	t.Cleanup(h.session.Close)
	if err := h.session.Open(context.Background(), "ws://nvr/api/cameras/x/main/live.m4s"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st := h.session.State(); st != StateStreaming {
		t.Fatalf("state = %v, want streaming", st)
	}
}

func liveMessage(contentType, id string, body string, extra ...frame.Field) []byte {
	var hdr frame.Header
	hdr.Add(frame.HeaderContentType, contentType)
	hdr.Add(frame.HeaderSampleEntrySHA1, id)
	for _, f := range extra {
		hdr.Add(f.Name, f.Value)
	}
	return frame.Append(nil, hdr, []byte(body))
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

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close")
	}
}
