package frame

import (
	"strconv"
	"strings"
)

// Header names carried by the live view stream.
const (
	HeaderContentType     = "Content-Type"
	HeaderSampleEntrySHA1 = "X-Video-Sample-Entry-Sha1"
	HeaderRecordingID     = "X-Recording-Id"
	HeaderRecordingStart  = "X-Recording-Start"
	HeaderMediaTimeRange  = "X-Media-Time-Range"
)

// Field is a single header line as it appeared on the wire.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered, multi-valued header mapping. Names keep the case
// they were declared with; lookups ignore ASCII case. Adding a name that is
// already present appends another value rather than replacing it.
type Header struct {
	fields []Field
}

// Add appends a value for name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Get returns the first value for name, or "" if absent.
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value for name and whether it was present.
func (h Header) Lookup(name string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value for name in wire order.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Names returns the distinct header names in first-seen order.
func (h Header) Names() []string {
	names := make([]string, 0, len(h.fields))
	for _, f := range h.fields {
		dup := false
		for _, n := range names {
			if strings.EqualFold(n, f.Name) {
				dup = true
				break
			}
		}
		if !dup {
			names = append(names, f.Name)
		}
	}
	return names
}

// Fields returns a copy of all header lines in wire order.
func (h Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

// Len returns the number of header lines.
func (h Header) Len() int { return len(h.fields) }

// ContentType returns the declared MIME type of the segment, including
// codec parameters (e.g. `video/mp4; codecs="avc1.640028"`).
func (h Header) ContentType() string { return h.Get(HeaderContentType) }

// SampleEntrySHA1 returns the identifier of the initialization segment
// the body must be preceded by.
func (h Header) SampleEntrySHA1() string { return h.Get(HeaderSampleEntrySHA1) }

// RecordingID returns the recording the segment belongs to, as
// "<stream id>/<recording id>" or however the server formats it.
func (h Header) RecordingID() string { return h.Get(HeaderRecordingID) }

// RecordingStart returns the recording's start time in 90 kHz units since
// the epoch, and false if the header is absent or malformed.
func (h Header) RecordingStart() (int64, bool) {
	v, ok := h.Lookup(HeaderRecordingStart)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MediaTimeRange returns the segment's "start-end" media time range in
// 90 kHz units relative to the recording start, and false if the header is
// absent or malformed.
func (h Header) MediaTimeRange() (start, end int64, ok bool) {
	v, present := h.Lookup(HeaderMediaTimeRange)
	if !present {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(v, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(hi, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}
