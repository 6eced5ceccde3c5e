// Package frame parses the messages of the live view stream. Each message
// carries one frame: a block of "Name: Value" header lines, each terminated
// by CRLF, an empty line, and a binary media segment that runs to the end of
// the message.
//
// This package contains no I/O or session state; the session and buffer
// sequencing logic live in [github.com/zsiec/liveview/internal/session] and
// [github.com/zsiec/liveview/internal/mediabuf].
package frame
