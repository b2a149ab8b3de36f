package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, opts ...Option) (*Hub, string) {
	t.Helper()
	hub := NewHub(Config{PingInterval: 50 * time.Millisecond, WriteTimeout: time.Second}, zerolog.Nop(), opts...)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastReachesClients(t *testing.T) {
	var gauge atomic.Int64
	hub, url := startHub(t, WithClientGauge(func(n int) { gauge.Store(int64(n)) }))

	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), gauge.Load())

	payload := []byte(`{"title":"Disk","body":"full","severity":"critical"}`)
	assert.Equal(t, 2, hub.Broadcast(payload))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		kind, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, payload, msg)
	}
}

func TestClosedClientIsDropped(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Broadcast([]byte("x")))
}

func TestTokenRequired(t *testing.T) {
	hub, url := startHub(t, WithValidator(func(token string) error {
		if token != "secret" {
			return ErrUnauthorized
		}
		return nil
	}))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	dial(t, url+"?token=secret")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPingKeepsConnectionAlive(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	pings := make(chan struct{}, 4)
	conn.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
	assert.Equal(t, 1, hub.Count())
}
