package mediabuf

import (
	"context"
	"sync/atomic"
)

// Mode is the timestamp handling mode of a SourceBuffer.
type Mode int

const (
	// ModeSegments places segments on the timeline by their own timestamps.
	ModeSegments Mode = iota
	// ModeSequence places each segment directly after the previous one.
	ModeSequence
)

func (m Mode) String() string {
	switch m {
	case ModeSegments:
		return "segments"
	case ModeSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// SourceBuffer is an append-only media buffer.
type SourceBuffer interface {
	// Append submits segment and returns once the buffer has finished
	// processing it. Callers must not call Append again before it returns.
	Append(ctx context.Context, segment []byte) error
}

// MediaSource creates and owns SourceBuffers.
type MediaSource interface {
	IsTypeSupported(contentType string) bool
	AddSourceBuffer(contentType string, mode Mode) (SourceBuffer, error)
	RemoveSourceBuffer(buf SourceBuffer) error
}

// Handle is a session's primed buffer. Its content type is fixed at
// creation.
type Handle struct {
	contentType string
	buf         SourceBuffer
	primed      atomic.Bool
	pending     atomic.Bool
}

// ContentType returns the content type the buffer was created with.
func (h *Handle) ContentType() string { return h.contentType }

// Primed reports whether the initialization segment has been appended.
func (h *Handle) Primed() bool { return h.primed.Load() }

// Pending reports whether an append is outstanding.
func (h *Handle) Pending() bool { return h.pending.Load() }

func (h *Handle) append(ctx context.Context, segment []byte) error {
	h.pending.Store(true)
	defer h.pending.Store(false)
	return h.buf.Append(ctx, segment)
}
