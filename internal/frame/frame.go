package frame

import "bytes"

// Frame is one parsed stream message. Body aliases the message buffer it
// was parsed from.
type Frame struct {
	Header Header
	Body   []byte
}

var crlf = []byte("\r\n")

// Parse splits a message into its header block and body. It either returns
// a complete Frame or a *FormatError, never a partial frame.
func Parse(data []byte) (*Frame, error) {
	var h Header
	pos := 0
	for {
		end, err := lineEnd(data, pos)
		if err != nil {
			return nil, err
		}
		if end == pos {
			return &Frame{Header: h, Body: data[end+2:]}, nil
		}
		name, value, err := parseLine(data[pos:end], pos)
		if err != nil {
			return nil, err
		}
		h.Add(name, value)
		pos = end + 2
	}
}

// lineEnd returns the offset of the CR that terminates the header line
// starting at pos. Every byte up to it must be 7-bit ASCII and the CR must be
// followed by LF.
func lineEnd(data []byte, pos int) (int, error) {
	for i := pos; i < len(data); i++ {
		switch b := data[i]; {
		case b == '\r':
			if i+1 == len(data) {
				return 0, &FormatError{Offset: i, Reason: "CR at end of message"}
			}
			if data[i+1] != '\n' {
				return 0, &FormatError{Offset: i, Reason: "CR not followed by LF"}
			}
			return i, nil
		case b >= 0x80:
			return 0, &FormatError{Offset: i, Reason: "non-ASCII byte in header"}
		}
	}
	return 0, &FormatError{Offset: len(data), Reason: "unterminated header block"}
}

// parseLine splits "Name: Value". base is the line's offset in the message,
// used for error reporting.
func parseLine(line []byte, base int) (string, string, error) {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return "", "", &FormatError{Offset: base, Reason: "header line has no colon"}
	}
	if colon+1 >= len(line) || line[colon+1] != ' ' {
		return "", "", &FormatError{Offset: base + colon, Reason: "colon not followed by a space"}
	}
	return string(line[:colon]), string(line[colon+2:]), nil
}

// Append serializes a frame onto dst in wire form and returns the extended
// slice. Parse(Append(nil, h, body)) reproduces h and body for any header
// whose names contain no colon and whose names and values contain no CR or LF.
func Append(dst []byte, h Header, body []byte) []byte {
	for _, f := range h.fields {
		dst = append(dst, f.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, f.Value...)
		dst = append(dst, crlf...)
	}
	dst = append(dst, crlf...)
	return append(dst, body...)
}
