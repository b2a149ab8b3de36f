package worker

import (
	"context"
	"sync"
)

// Shown is a notification captured by a Recorder.
type Shown struct {
	Title   string
	Options NotificationOptions

	mu     sync.Mutex
	closed bool
}

func (s *Shown) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Shown) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Shown) Data() NotificationData {
	return s.Options.Data
}

// Recorder is an in-memory Host. The server uses it to render previews.
type Recorder struct {
	mu     sync.Mutex
	shown  []*Shown
	opened []string
}

func (r *Recorder) ShowNotification(_ context.Context, title string, opts NotificationOptions) error {
	r.mu.Lock()
	r.shown = append(r.shown, &Shown{Title: title, Options: opts})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) OpenWindow(_ context.Context, absoluteURL string) error {
	r.mu.Lock()
	r.opened = append(r.opened, absoluteURL)
	r.mu.Unlock()
	return nil
}

// Shown returns the notifications displayed so far.
func (r *Recorder) Shown() []*Shown {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Shown(nil), r.shown...)
}

// Opened returns the locations opened so far.
func (r *Recorder) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.opened...)
}

// Last returns the most recent notification, or nil.
func (r *Recorder) Last() *Shown {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.shown) == 0 {
		return nil
	}
	return r.shown[len(r.shown)-1]
}
