package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/pushclient"
	"github.com/bark-labs/webpush-relay/internal/storage/bolt"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addSubscription(t *testing.T, svc *SubscriptionService, endpoint, name string) *model.Subscription {
	t.Helper()
	sub, err := svc.Subscribe(context.Background(), SubscribeRequest{
		Endpoint: endpoint,
		Keys:     model.SubscriptionKeys{P256dh: "BPubKeyMaterial", Auth: "authSecret"},
		Name:     name,
	}, "test-agent")
	require.NoError(t, err)
	return sub
}

type sentPush struct {
	Endpoint string
	Payload  []byte
	Options  pushclient.SendOptions
}

// fakeSender answers with a per-endpoint status code, 201 by default.
type fakeSender struct {
	mu    sync.Mutex
	codes map[string]int
	errs  map[string]error
	sent  []sentPush
}

func (f *fakeSender) Send(_ context.Context, sub *model.Subscription, payload []byte, so pushclient.SendOptions) (*pushclient.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{Endpoint: sub.Endpoint, Payload: append([]byte(nil), payload...), Options: so})
	if err := f.errs[sub.Endpoint]; err != nil {
		return nil, err
	}
	code := 201
	if c, ok := f.codes[sub.Endpoint]; ok {
		code = c
	}
	return &pushclient.Result{StatusCode: code, Body: "status body"}, nil
}

func (f *fakeSender) Sent() []sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPush(nil), f.sent...)
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	clients  int
}

func (p *fakePublisher) Broadcast(payload []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return p.clients
}
