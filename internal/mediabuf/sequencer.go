package mediabuf

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/zsiec/liveview/internal/frame"
	"github.com/zsiec/liveview/internal/initseg"
)

// bufferState tracks the session's buffer through its single creation.
type bufferState int

const (
	stateUnrequested bufferState = iota
	stateInFlight
	stateReady
	stateFailed
)

func (s bufferState) String() string {
	switch s {
	case stateUnrequested:
		return "unrequested"
	case stateInFlight:
		return "in-flight"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// queueHint is the initial capacity of the append queue.
const queueHint = 16

// pendingSegment is one queued append.
type pendingSegment struct {
	handle *Handle
	body   []byte
}

// SequencerStats is a point-in-time snapshot of a Sequencer.
type SequencerStats struct {
	State       string `json:"state"`
	ContentType string `json:"contentType,omitempty"`
	Primed      bool   `json:"primed"`
	Pending     bool   `json:"pending"`
	Queued      int    `json:"queued"`
	Segments    int64  `json:"segments"`
	Bytes       int64  `json:"bytes"`
}

// Config holds the collaborators of a Sequencer.
type Config struct {
	Source  MediaSource
	Fetcher initseg.Fetcher
	Logger  *slog.Logger
}

// Sequencer owns one session's buffer. EnsureBuffer creates and primes it
// at most once; Append queues bodies for a single worker that submits each
// only after the previous append completed.
type Sequencer struct {
	log     *slog.Logger
	source  MediaSource
	fetcher initseg.Fetcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  bufferState
	handle *Handle
	err    error
	ready  chan struct{}
	closed bool

	queue     *queue.Queue
	errCh     chan error
	errOnce   sync.Once
	closeOnce sync.Once

	segments atomic.Int64
	bytes    atomic.Int64
}

// NewSequencer creates a Sequencer and starts its append worker.
func NewSequencer(cfg Config) *Sequencer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		log:     log.With("component", "sequencer"),
		source:  cfg.Source,
		fetcher: cfg.Fetcher,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		queue:   queue.New(queueHint),
		errCh:   make(chan error, 1),
	}
	s.wg.Add(1)
	go s.appendLoop()
	return s
}

// EnsureBuffer returns the session's primed buffer, creating it from h on
// the first call. Callers that arrive while creation is in flight wait for
// it and receive the same handle or error. Once created, the buffer is
// returned regardless of h. A ctx cancellation only abandons this caller's
// wait; creation itself is abandoned by Close.
func (s *Sequencer) EnsureBuffer(ctx context.Context, h frame.Header) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state == stateUnrequested {
		s.state = stateInFlight
		s.wg.Add(1)
		go s.create(h)
	}
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.err
}

// create runs the one-time buffer creation and publishes its result.
func (s *Sequencer) create(h frame.Header) {
	defer s.wg.Done()

	handle, err := s.createBuffer(s.ctx, h)

	s.mu.Lock()
	if s.closed && err == nil {
		// Close ran while the buffer was being primed.
		s.removeBuffer(handle)
		handle, err = nil, ErrClosed
	}
	if err != nil {
		s.state = stateFailed
		s.err = err
	} else {
		s.state = stateReady
		s.handle = handle
	}
	close(s.ready)
	s.mu.Unlock()
}

func (s *Sequencer) createBuffer(ctx context.Context, h frame.Header) (*Handle, error) {
	ct := h.ContentType()
	if ct == "" {
		return nil, &MissingHeaderError{Name: frame.HeaderContentType}
	}
	if !s.source.IsTypeSupported(ct) {
		return nil, &UnsupportedCodecError{ContentType: ct}
	}
	id := h.SampleEntrySHA1()
	if id == "" {
		return nil, &MissingHeaderError{Name: frame.HeaderSampleEntrySHA1}
	}

	buf, err := s.source.AddSourceBuffer(ct, ModeSequence)
	if err != nil {
		return nil, err
	}
	handle := &Handle{contentType: ct, buf: buf}

	initSeg, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		s.removeBuffer(handle)
		if ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, &InitFetchError{ID: id, Err: err}
	}
	if err := handle.append(ctx, initSeg); err != nil {
		s.removeBuffer(handle)
		if ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, &AppendError{Init: true, Err: err}
	}
	handle.primed.Store(true)
	s.log.Debug("buffer primed", "content_type", ct, "sample_entry", id, "init_bytes", len(initSeg))
	return handle, nil
}

func (s *Sequencer) removeBuffer(h *Handle) {
	if err := s.source.RemoveSourceBuffer(h.buf); err != nil {
		s.log.Warn("remove source buffer", "error", err)
	}
}

// Append queues body for appending to the buffer behind every body queued
// before it. It does not wait for the append; failures are reported on Err.
func (s *Sequencer) Append(h *Handle, body []byte) error {
	s.mu.Lock()
	closed, own := s.closed, h != nil && h == s.handle
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !own {
		return ErrForeignHandle
	}
	if err := s.queue.Put(pendingSegment{handle: h, body: body}); err != nil {
		if errors.Is(err, queue.ErrDisposed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// appendLoop is the only goroutine that appends content segments.
func (s *Sequencer) appendLoop() {
	defer s.wg.Done()
	for {
		items, err := s.queue.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			seg := item.(pendingSegment)
			if err := seg.handle.append(s.ctx, seg.body); err != nil {
				if s.ctx.Err() == nil {
					s.fail(&AppendError{Err: err})
				}
				return
			}
			s.segments.Add(1)
			s.bytes.Add(int64(len(seg.body)))
		}
	}
}

func (s *Sequencer) fail(err error) {
	s.errOnce.Do(func() {
		s.log.Error("append failed", "error", err)
		s.errCh <- err
	})
}

// Err returns a channel that receives the first append failure.
func (s *Sequencer) Err() <-chan error { return s.errCh }

// Close abandons any in-flight creation, fetch, or append, waits for them
// to unwind, and removes the buffer from the media source. It is safe to
// call more than once.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.queue.Dispose()
		s.wg.Wait()

		s.mu.Lock()
		h := s.handle
		s.handle = nil
		s.mu.Unlock()
		if h != nil {
			s.removeBuffer(h)
		}
	})
}

// Stats returns a snapshot of the sequencer.
func (s *Sequencer) Stats() SequencerStats {
	s.mu.Lock()
	st := SequencerStats{State: s.state.String()}
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		st.ContentType = h.ContentType()
		st.Primed = h.Primed()
		st.Pending = h.Pending()
	}
	st.Queued = int(s.queue.Len())
	st.Segments = s.segments.Load()
	st.Bytes = s.bytes.Load()
	return st
}
