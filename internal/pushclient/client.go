package pushclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/bark-labs/webpush-relay/internal/model"
	"golang.org/x/time/rate"
)

// Client is a thin wrapper over the Web Push protocol with VAPID signing.
type Client struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
	recordSize uint32
	timeout    time.Duration
	http       webpush.HTTPClient
	limiter    *rate.Limiter
}

// Options configures a Client.
type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	RecordSize      uint32
	RequestTimeout  time.Duration
	RatePerSec      float64
	Burst           int
	HTTPClient      *http.Client
}

// SendOptions carries per-message delivery hints.
type SendOptions struct {
	Urgency webpush.Urgency
	// Topic lets the push service replace an undelivered message with the same topic.
	Topic string
}

// Result is the push service's answer for one subscription.
type Result struct {
	StatusCode int
	Body       string
}

// Gone reports whether the push service says the subscription no longer exists.
func (r *Result) Gone() bool {
	return r != nil && (r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone)
}

// OK reports a 2xx answer.
func (r *Result) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// New creates a Web Push client.
func New(opts Options) (*Client, error) {
	if opts.VAPIDPublicKey == "" || opts.VAPIDPrivateKey == "" {
		return nil, errors.New("vapid keys are required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 60
	}
	if opts.RecordSize == 0 {
		opts.RecordSize = 3000
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		publicKey:  opts.VAPIDPublicKey,
		privateKey: opts.VAPIDPrivateKey,
		// webpush-go adds the mailto: scheme itself
		subscriber: strings.TrimPrefix(strings.TrimSpace(opts.Subscriber), "mailto:"),
		ttl:        opts.TTL,
		recordSize: opts.RecordSize,
		timeout:    opts.RequestTimeout,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// PublicKey returns the VAPID public key browsers subscribe with.
func (c *Client) PublicKey() string {
	return c.publicKey
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
func (c *Client) Send(ctx context.Context, sub *model.Subscription, payload []byte, so SendOptions) (*Result, error) {
	if sub == nil || sub.Endpoint == "" {
		return nil, errors.New("subscription endpoint is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	urgency := so.Urgency
	if urgency == "" {
		urgency = webpush.UrgencyNormal
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      c.http,
		Subscriber:      c.subscriber,
		VAPIDPublicKey:  c.publicKey,
		VAPIDPrivateKey: c.privateKey,
		TTL:             c.ttl,
		RecordSize:      c.recordSize,
		Urgency:         urgency,
		Topic:           Topic(so.Topic),
	})
	if err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	result := &Result{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		result.Body = strings.TrimSpace(string(b))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return result, nil
}

var topicInvalid = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// Topic reduces value to the URL-safe base64 alphabet and 32 characters the Topic
// header allows.
func Topic(value string) string {
	t := topicInvalid.ReplaceAllString(value, "")
	if len(t) > 32 {
		t = t[:32]
	}
	return t
}
