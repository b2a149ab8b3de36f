package desktop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// PayloadFunc receives one raw push payload.
type PayloadFunc func(ctx context.Context, payload []byte)

// StreamReader follows the relay's websocket stream and reconnects when it drops.
type StreamReader struct {
	url     string
	dialer  *websocket.Dialer
	handle  PayloadFunc
	log     zerolog.Logger
	backoff time.Duration
}

// NewStreamReader builds a reader for streamURL, adding token as a query parameter when set.
func NewStreamReader(streamURL, token string, handle PayloadFunc, log zerolog.Logger) (*StreamReader, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stream url must use ws or wss, got %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return &StreamReader{
		url:     u.String(),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		handle:  handle,
		log:     log,
		backoff: minBackoff,
	}, nil
}

// Run reads until ctx ends. Every disconnect is followed by an exponential backoff.
func (r *StreamReader) Run(ctx context.Context) error {
	backoff := r.backoff
	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = r.backoff
		}
		r.log.Warn().Err(err).Dur("backoff", backoff).Msg("stream disconnected")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection and reports whether the handshake succeeded.
func (r *StreamReader) session(ctx context.Context) (bool, error) {
	conn, resp, err := r.dialer.DialContext(ctx, r.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, errors.New("stream rejected token")
		}
		return false, err
	}
	r.log.Info().Str("url", r.url).Msg("stream connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		r.handle(ctx, msg)
	}
}
