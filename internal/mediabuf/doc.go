// Package mediabuf sequences media segments into an append-only media
// buffer. A Sequencer lazily creates the buffer from the first frame's
// declared content type, primes it with the codec initialization segment
// exactly once, and then appends frame bodies strictly in arrival order with
// at most one append outstanding.
//
// The platform buffer is abstracted behind MediaSource and SourceBuffer so
// the sequencing logic can run headless; FileSource is the implementation
// used to record a live view to disk.
package mediabuf
