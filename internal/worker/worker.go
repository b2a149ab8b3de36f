package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc handles one event and reports completion asynchronously.
type HandlerFunc func(ctx context.Context, ev Event) *Completion

// Worker maps host events to host calls. It keeps no state between events.
type Worker struct {
	origin   *url.URL
	host     Host
	pres     Presentation
	client   *http.Client
	nextTag  TagFunc
	log      zerolog.Logger
	handlers map[string]HandlerFunc
}

// Option customises a Worker.
type Option func(*Worker)

// WithPresentation overrides the presentation defaults.
func WithPresentation(p Presentation) Option {
	return func(w *Worker) { w.pres = p.withDefaults() }
}

// WithHTTPClient sets the client used for the diagnostic icon fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Worker) { w.client = c }
}

// WithTagFunc replaces the generator of non-critical tags.
func WithTagFunc(fn TagFunc) Option {
	return func(w *Worker) { w.nextTag = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// New builds a Worker for a host deployed at origin.
func New(origin *url.URL, host Host, opts ...Option) (*Worker, error) {
	if origin == nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin must include scheme and host")
	}
	if host == nil {
		return nil, fmt.Errorf("host is required")
	}
	w := &Worker{
		origin:  origin,
		host:    host,
		pres:    DefaultPresentation(),
		client:  &http.Client{Timeout: 5 * time.Second},
		nextTag: TimeTag(time.Now),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.handlers = map[string]HandlerFunc{
		EventPush:              w.handlePush,
		EventNotificationClick: w.handleClick,
	}
	return w, nil
}

// Dispatch routes ev to the handler registered for its kind.
func (w *Worker) Dispatch(ctx context.Context, ev Event) *Completion {
	if ev == nil {
		return completed(ErrUnknownEvent)
	}
	h, ok := w.handlers[ev.Kind()]
	if !ok {
		return completed(fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind()))
	}
	return h(ctx, ev)
}

// Push handles an incoming push payload.
func (w *Worker) Push(ctx context.Context, data []byte) *Completion {
	return w.Dispatch(ctx, PushEvent{Data: data})
}

// Click handles the activation of a shown notification.
func (w *Worker) Click(ctx context.Context, n ShownNotification) *Completion {
	return w.Dispatch(ctx, ClickEvent{Notification: n})
}

// Prepare computes the title and options for a payload without calling the host.
func (w *Worker) Prepare(data []byte) (string, NotificationOptions) {
	payload := Resolve(data, w.pres)
	return payload.Title, BuildOptions(payload, w.origin, w.pres, w.nextTag)
}

func (w *Worker) handlePush(ctx context.Context, ev Event) *Completion {
	pe, ok := ev.(PushEvent)
	if !ok {
		return completed(fmt.Errorf("%w: unexpected %T for push", ErrUnknownEvent, ev))
	}
	title, opts := w.Prepare(pe.Data)
	return waitUntil(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		if w.pres.DiagnosticFetch && w.client != nil && opts.Icon != "" {
			g.Go(func() error {
				w.fetchIcon(gctx, opts.Icon)
				return nil
			})
		}
		g.Go(func() error {
			return w.host.ShowNotification(ctx, title, opts)
		})
		return g.Wait()
	})
}

func (w *Worker) handleClick(ctx context.Context, ev Event) *Completion {
	ce, ok := ev.(ClickEvent)
	if !ok || ce.Notification == nil {
		return completed(fmt.Errorf("%w: click without notification", ErrUnknownEvent))
	}
	ce.Notification.Close()
	target := SameOriginLocation(w.origin, ce.Notification.Data().URL)
	return waitUntil(ctx, func(ctx context.Context) error {
		return w.host.OpenWindow(ctx, target)
	})
}

// fetchIcon logs whether the icon is reachable. Its outcome never changes control flow.
func (w *Worker) fetchIcon(ctx context.Context, icon string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, icon, nil)
	if err != nil {
		w.log.Debug().Err(err).Str("icon", icon).Msg("icon fetch request")
		return
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn().Err(err).Str("icon", icon).Msg("icon unreachable")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	w.log.Debug().Str("icon", icon).Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).Msg("icon fetch")
}
