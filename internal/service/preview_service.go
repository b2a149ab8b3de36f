package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/rs/zerolog"
)

// Preview is what a browser would display for a payload and where a click would lead.
type Preview struct {
	Title    string                     `json:"title"`
	Options  worker.NotificationOptions `json:"options"`
	ClickURL string                     `json:"clickUrl"`
}

// PreviewService runs the worker against an in-memory host.
type PreviewService struct {
	origin string
	pres   worker.Presentation
	log    zerolog.Logger
}

// NewPreviewService builds PreviewService. Previews never fetch icons server side.
func NewPreviewService(defaultOrigin string, pres worker.Presentation, log zerolog.Logger) *PreviewService {
	pres.DiagnosticFetch = false
	return &PreviewService{origin: defaultOrigin, pres: pres, log: log}
}

// Render pushes raw through a fresh worker, then clicks the result.
func (s *PreviewService) Render(ctx context.Context, raw []byte, origin string) (*Preview, error) {
	if strings.TrimSpace(origin) == "" {
		origin = s.origin
	}
	o, err := worker.ParseOrigin(origin)
	if err != nil {
		return nil, err
	}
	rec := &worker.Recorder{}
	w, err := worker.New(o, rec, worker.WithPresentation(s.pres), worker.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	if err := w.Push(ctx, raw).Wait(ctx); err != nil {
		return nil, err
	}
	shown := rec.Last()
	if shown == nil {
		return nil, errors.New("no notification shown")
	}
	if err := w.Click(ctx, shown).Wait(ctx); err != nil {
		return nil, err
	}
	preview := &Preview{Title: shown.Title, Options: shown.Options}
	if opened := rec.Opened(); len(opened) > 0 {
		preview.ClickURL = opened[len(opened)-1]
	}
	return preview, nil
}
