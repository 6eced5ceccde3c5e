package mediabuf

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultCodecs are the sample entry types FileSource accepts when none are
// configured.
var DefaultCodecs = []string{"avc1", "hvc1", "hev1"}

// FileSource is a MediaSource that writes every appended segment, in order,
// to an io.Writer. Since the init segment is appended first and every later
// segment is a moof/mdat fragment, the output is a playable fragmented MP4.
type FileSource struct {
	codecs []string

	mu      sync.Mutex
	w       io.Writer
	current *fileBuffer
	written int64
}

// NewFileSource returns a FileSource writing to w. A nil or empty codecs
// list selects DefaultCodecs.
func NewFileSource(w io.Writer, codecs []string) *FileSource {
	if len(codecs) == 0 {
		codecs = DefaultCodecs
	}
	return &FileSource{w: w, codecs: codecs}
}

// IsTypeSupported reports whether contentType is video/mp4 and every codec
// it lists is one of the configured sample entry types.
func (fs *FileSource) IsTypeSupported(contentType string) bool {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "video/mp4" {
		return false
	}
	codecs, ok := params["codecs"]
	if !ok {
		return true
	}
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		entry, _, _ := strings.Cut(c, ".")
		if !fs.supports(entry) {
			return false
		}
	}
	return true
}

func (fs *FileSource) supports(entry string) bool {
	for _, c := range fs.codecs {
		if c == entry {
			return true
		}
	}
	return false
}

// AddSourceBuffer creates the source's only buffer.
func (fs *FileSource) AddSourceBuffer(contentType string, mode Mode) (SourceBuffer, error) {
	if !fs.IsTypeSupported(contentType) {
		return nil, &UnsupportedCodecError{ContentType: contentType}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.current != nil {
		return nil, ErrBufferExists
	}
	fs.current = &fileBuffer{source: fs, contentType: contentType, mode: mode}
	return fs.current, nil
}

// RemoveSourceBuffer detaches buf; later appends to it fail with ErrRemoved.
func (fs *FileSource) RemoveSourceBuffer(buf SourceBuffer) error {
	fb, ok := buf.(*fileBuffer)
	if !ok {
		return fmt.Errorf("mediabuf: buffer %T was not created by this source", buf)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.current != fb {
		return ErrRemoved
	}
	fb.removed.Store(true)
	fs.current = nil
	return nil
}

// Written returns the number of bytes written so far.
func (fs *FileSource) Written() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.written
}

type fileBuffer struct {
	source      *FileSource
	contentType string
	mode        Mode
	updating    atomic.Bool
	removed     atomic.Bool
}

// Append writes segment through to the source's writer. Overlapping calls
// are rejected with ErrUpdating rather than serialized.
func (b *fileBuffer) Append(ctx context.Context, segment []byte) error {
	if !b.updating.CompareAndSwap(false, true) {
		return ErrUpdating
	}
	defer b.updating.Store(false)

	if err := ctx.Err(); err != nil {
		return err
	}
	if b.removed.Load() {
		return ErrRemoved
	}

	fs := b.source
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.w.Write(segment)
	fs.written += int64(n)
	if err != nil {
		return fmt.Errorf("mediabuf: write segment: %w", err)
	}
	return nil
}
