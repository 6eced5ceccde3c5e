// Package session drives one live view: it opens the stream connection,
// parses each inbound message into a frame, and hands frames to a
// mediabuf.Sequencer in arrival order. Any failure closes the session.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/zsiec/liveview/internal/frame"
	"github.com/zsiec/liveview/internal/initseg"
	"github.com/zsiec/liveview/internal/mediabuf"
)

// State is the lifecycle state of a Session.
type State int32

// Session states. A session moves forward only; Closed is terminal.
const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the collaborators of a Session.
type Config struct {
	// Key identifies the session in logs and stats.
	Key     string
	Dialer  Dialer
	Source  mediabuf.MediaSource
	Fetcher initseg.Fetcher
	Logger  *slog.Logger

	// OnFatal, if set, is called once with the error that closed the
	// session. It is not called for Close.
	OnFatal func(error)
}

// Stats is a point-in-time snapshot of a Session.
type Stats struct {
	Key            string                  `json:"key"`
	URL            string                  `json:"url,omitempty"`
	State          string                  `json:"state"`
	Frames         int64                   `json:"frames"`
	Bytes          int64                   `json:"bytes"`
	RecordingID    string                  `json:"recordingId,omitempty"`
	RecordingStart int64                   `json:"recordingStart,omitempty"`
	MediaStart     int64                   `json:"mediaStart,omitempty"`
	MediaEnd       int64                   `json:"mediaEnd,omitempty"`
	Buffer         mediabuf.SequencerStats `json:"buffer"`
	Error          string                  `json:"error,omitempty"`
}

// recordingInfo is the recording metadata of the latest frame.
type recordingInfo struct {
	id         string
	start      int64
	mediaStart int64
	mediaEnd   int64
}

// Session owns one stream connection and the buffer it feeds. Both are
// released together when the session closes.
type Session struct {
	log     *slog.Logger
	key     string
	dialer  Dialer
	seq     *mediabuf.Sequencer
	onFatal func(error)

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}

	mu   sync.Mutex
	url  string
	conn Conn
	err  error
	rec  recordingInfo

	frames atomic.Int64
	bytes  atomic.Int64
}

// New creates an idle Session. A nil Dialer selects WebSocketDialer.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "session", "session", cfg.Key)
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		log:    log,
		key:    cfg.Key,
		dialer: dialer,
		seq: mediabuf.NewSequencer(mediabuf.Config{
			Source:  cfg.Source,
			Fetcher: cfg.Fetcher,
			Logger:  log,
		}),
		onFatal: cfg.OnFatal,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Key returns the session's key.
func (s *Session) Key() string { return s.key }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Open dials url and starts streaming. It returns once the connection is
// established; frames are then processed in the background until the
// session closes. A dial failure closes the session with a
// *ConnectionError.
func (s *Session) Open(ctx context.Context, url string) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateOpening)) {
		if s.State() == StateClosed {
			return ErrClosed
		}
		return ErrAlreadyOpened
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	s.log.Info("opening stream", "url", url)

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	conn, err := s.dialer.Dial(dialCtx, url)
	if err != nil {
		if s.State() == StateClosed {
			return ErrClosed
		}
		cerr := &ConnectionError{Op: "dial", URL: url, Err: err}
		s.closeWith(cerr)
		return cerr
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(StateOpening), int32(StateStreaming)) {
		// Closed while dialing; teardown ran before conn was recorded.
		conn.Close()
		return ErrClosed
	}
	s.log.Info("streaming", "url", url)

	go s.readLoop(conn, url)
	go s.watchSequencer()
	return nil
}

// readLoop processes inbound messages strictly one after another, so each
// frame's buffer resolution and append are ordered behind the previous one.
func (s *Session) readLoop(conn Conn, url string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if s.State() == StateClosed {
			return
		}
		if err != nil {
			s.closeWith(&ConnectionError{Op: "read", URL: url, Err: err})
			return
		}
		if msgType != websocket.BinaryMessage {
			s.log.Debug("ignoring non-binary message", "type", msgType, "bytes", len(data))
			continue
		}
		if err := s.handleMessage(data); err != nil {
			if s.State() == StateClosed {
				return
			}
			s.closeWith(err)
			return
		}
	}
}

func (s *Session) handleMessage(data []byte) error {
	f, err := frame.Parse(data)
	if err != nil {
		return err
	}
	h, err := s.seq.EnsureBuffer(s.ctx, f.Header)
	if err != nil {
		return err
	}
	if err := s.seq.Append(h, f.Body); err != nil {
		return err
	}

	s.frames.Add(1)
	s.bytes.Add(int64(len(data)))
	s.noteRecording(f.Header)
	return nil
}

func (s *Session) noteRecording(h frame.Header) {
	id := h.RecordingID()
	if id == "" {
		return
	}
	rec := recordingInfo{id: id}
	rec.start, _ = h.RecordingStart()
	rec.mediaStart, rec.mediaEnd, _ = h.MediaTimeRange()

	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

func (s *Session) watchSequencer() {
	select {
	case err := <-s.seq.Err():
		s.closeWith(err)
	case <-s.done:
	}
}

// Close ends the session from any state, abandoning in-flight work and
// releasing the connection and buffer. It is safe to call more than once.
func (s *Session) Close() {
	s.closeWith(nil)
}

// closeWith tears the session down once. A non-nil err is recorded as the
// fatal error that ended the session.
func (s *Session) closeWith(err error) {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.state.Store(int32(StateClosed))

		s.mu.Lock()
		s.err = err
		conn := s.conn
		s.mu.Unlock()

		if err != nil {
			attrs := []any{"error", err}
			var fe *frame.FormatError
			if errors.As(err, &fe) {
				attrs = append(attrs, "offset", fe.Offset)
			}
			s.log.Error("session failed", attrs...)
		}

		s.cancel()
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				s.log.Debug("close connection", "error", cerr)
			}
		}
		s.seq.Close()
		close(s.done)

		s.log.Info("session closed", "frames", s.frames.Load(), "bytes", s.bytes.Load())
	})
	if first && err != nil && s.onFatal != nil {
		s.onFatal(err)
	}
}

// Done returns a channel closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that closed the session, or nil if it is still
// running or was closed with Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session closes or ctx ends. It returns the
// session's fatal error, if any, or ctx.Err().
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Key:            s.key,
		URL:            s.url,
		RecordingID:    s.rec.id,
		RecordingStart: s.rec.start,
		MediaStart:     s.rec.mediaStart,
		MediaEnd:       s.rec.mediaEnd,
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	s.mu.Unlock()

	st.State = s.State().String()
	st.Frames = s.frames.Load()
	st.Bytes = s.bytes.Load()
	st.Buffer = s.seq.Stats()
	return st
}
