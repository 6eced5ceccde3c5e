package mediabuf

import (
	"errors"
	"fmt"
)

// Sentinel errors for sequencer and buffer misuse.
var (
	ErrClosed        = errors.New("mediabuf: sequencer closed")
	ErrForeignHandle = errors.New("mediabuf: handle does not belong to this sequencer")
	ErrUpdating      = errors.New("mediabuf: append while buffer is updating")
	ErrBufferExists  = errors.New("mediabuf: media source already has a buffer")
	ErrRemoved       = errors.New("mediabuf: buffer removed from media source")
)

// UnsupportedCodecError reports a declared content type the media source
// cannot play. It is fatal for the session.
type UnsupportedCodecError struct {
	ContentType string
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("mediabuf: unsupported content type %q", e.ContentType)
}

// MissingHeaderError reports that the first frame lacks a header required
// to create the buffer.
type MissingHeaderError struct {
	Name string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("mediabuf: first frame has no %s header", e.Name)
}

// InitFetchError wraps a failure to retrieve the initialization segment.
type InitFetchError struct {
	ID  string
	Err error
}

func (e *InitFetchError) Error() string {
	return fmt.Sprintf("mediabuf: fetch init segment %s: %v", e.ID, e.Err)
}

func (e *InitFetchError) Unwrap() error {
	return e.Err
}

// AppendError wraps a failure reported by the underlying buffer.
type AppendError struct {
	Init bool
	Err  error
}

func (e *AppendError) Error() string {
	if e.Init {
		return fmt.Sprintf("mediabuf: append init segment: %v", e.Err)
	}
	return fmt.Sprintf("mediabuf: append segment: %v", e.Err)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}
