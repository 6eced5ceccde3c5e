// Package initseg retrieves codec initialization segments from the NVR's
// HTTP API. An initialization segment is the ftyp/moov prefix a media buffer
// must receive before any live segment with the same sample entry.
package initseg

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/singleflight"
)

// maxSegmentSize bounds the response body. Initialization segments are a
// few hundred bytes; anything near this size is not one.
const maxSegmentSize = 1 << 20

// defaultTimeout bounds a single fetch when the caller supplies no client.
const defaultTimeout = 15 * time.Second

// Errors returned by Fetch before any request is made.
var (
	ErrEmptyID = errors.New("initseg: empty sample entry id")
	ErrBadID   = errors.New("initseg: sample entry id is not hexadecimal")
)

// StatusError reports a non-2xx response from the init endpoint.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("initseg: GET %s: status %d", e.URL, e.StatusCode)
}

// Fetcher retrieves the initialization segment identified by id.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Func adapts an ordinary function to the Fetcher interface.
type Func func(ctx context.Context, id string) ([]byte, error)

// Fetch calls f(ctx, id).
func (f Func) Fetch(ctx context.Context, id string) ([]byte, error) { return f(ctx, id) }

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	// BaseURL is the NVR root, e.g. "https://nvr.example.com". The segment is
	// fetched from BaseURL + "/api/init/<id>.mp4".
	BaseURL string

	// Client overrides the HTTP client. When nil a client is built from
	// HTTP3 and TLSConfig.
	Client *http.Client

	// HTTP3 selects a QUIC transport instead of TCP.
	HTTP3     bool
	TLSConfig *tls.Config

	Logger *slog.Logger
}

// HTTPFetcher fetches initialization segments over HTTP. Concurrent fetches
// of the same id share one request.
type HTTPFetcher struct {
	log    *slog.Logger
	base   *url.URL
	client *http.Client
	h3     *http3.Transport
	group  singleflight.Group
}

// NewHTTPFetcher creates an HTTPFetcher. It returns an error if BaseURL is
// missing or not an absolute http(s) URL.
func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("initseg: BaseURL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("initseg: parse BaseURL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("initseg: BaseURL scheme %q is not http or https", base.Scheme)
	}
	if cfg.HTTP3 && base.Scheme != "https" {
		return nil, errors.New("initseg: HTTP/3 requires an https BaseURL")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	f := &HTTPFetcher{
		log:    log.With("component", "initseg"),
		base:   base,
		client: cfg.Client,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: defaultTimeout}
		if cfg.HTTP3 {
			f.h3 = &http3.Transport{
				TLSClientConfig: cfg.TLSConfig,
				QUICConfig: &quic.Config{
					MaxIdleTimeout: 30 * time.Second,
				},
			}
			f.client.Transport = f.h3
		} else if cfg.TLSConfig != nil {
			f.client.Transport = &http.Transport{TLSClientConfig: cfg.TLSConfig}
		}
	}
	return f, nil
}

// URL returns the endpoint an id is fetched from.
func (f *HTTPFetcher) URL(id string) string {
	return f.base.JoinPath("api", "init", id+".mp4").String()
}

// Fetch returns the initialization segment for id. If ctx is cancelled
// while another caller's request for the same id is in flight, Fetch returns
// ctx.Err() and the shared request continues for the remaining callers.
func (f *HTTPFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if !isHex(id) {
		return nil, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	ch := f.group.DoChan(id, func() (any, error) {
		return f.get(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.log.Debug("shared init segment fetch", "id", id)
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *HTTPFetcher) get(ctx context.Context, id string) ([]byte, error) {
	u := f.URL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("initseg: build request: %w", err)
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("initseg: GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("initseg: read %s: %w", u, err)
	}
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("initseg: GET %s: empty body", u)
	case len(data) > maxSegmentSize:
		return nil, fmt.Errorf("initseg: GET %s: body exceeds %d bytes", u, maxSegmentSize)
	}
	f.log.Debug("fetched init segment", "id", id, "bytes", len(data), "elapsed", time.Since(start))
	return data, nil
}

// Close releases the QUIC transport, if one was created.
func (f *HTTPFetcher) Close() error {
	if f.h3 != nil {
		return f.h3.Close()
	}
	return nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
