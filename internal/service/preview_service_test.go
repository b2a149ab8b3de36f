package service

import (
	"context"
	"testing"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewCritical(t *testing.T) {
	svc := NewPreviewService("https://nas.example.com", worker.DefaultPresentation(), zerolog.Nop())
	p, err := svc.Render(context.Background(), []byte(`{"title":"Disk","body":"full","url":"/storage","severity":"critical"}`), "")
	require.NoError(t, err)

	assert.Equal(t, "Disk", p.Title)
	assert.Equal(t, "critical", p.Options.Tag)
	assert.True(t, p.Options.RequireInteraction)
	assert.Equal(t, "https://nas.example.com/static/notification-icon.png", p.Options.Icon)
	assert.Equal(t, "https://nas.example.com/storage", p.ClickURL)
}

func TestPreviewOriginOverrideAndFallback(t *testing.T) {
	svc := NewPreviewService("https://nas.example.com", worker.DefaultPresentation(), zerolog.Nop())
	p, err := svc.Render(context.Background(), []byte("plain text"), "http://localhost:8090")
	require.NoError(t, err)
	assert.Equal(t, worker.DefaultTitle, p.Title)
	assert.Equal(t, "plain text", p.Options.Body)
	assert.Equal(t, "http://localhost:8090/", p.ClickURL)

	_, err = svc.Render(context.Background(), nil, "not-an-origin")
	require.Error(t, err)
}
