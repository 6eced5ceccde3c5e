package frame

import "fmt"

// FormatError reports a malformed frame. Offset is the byte position in the
// message at which parsing failed.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("frame: malformed header at offset %d: %s", e.Offset, e.Reason)
}
