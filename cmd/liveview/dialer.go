package main

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/liveview/internal/session"
)

// handshakeTimeout bounds the WebSocket upgrade of a live stream.
const handshakeTimeout = 10 * time.Second

func newDialer(tlsConfig *tls.Config) session.Dialer {
	return session.WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  tlsConfig,
			ReadBufferSize:   64 << 10,
		},
	}
}
