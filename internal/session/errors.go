package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session lifecycle misuse.
var (
	ErrAlreadyOpened = errors.New("session: already opened")
	ErrClosed        = errors.New("session: closed")
)

// ConnectionError reports a transport failure: a failed dial, a read error,
// or the peer closing the stream.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
