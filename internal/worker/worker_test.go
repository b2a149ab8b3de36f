package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrigin(t *testing.T) *url.URL {
	t.Helper()
	origin, err := ParseOrigin("https://relay.example.com")
	require.NoError(t, err)
	return origin
}

func newTestWorker(t *testing.T, host Host, opts ...Option) *Worker {
	t.Helper()
	var n int64
	opts = append([]Option{WithTagFunc(func() string {
		return "tag-" + string(rune('a'+atomic.AddInt64(&n, 1)))
	})}, opts...)
	w, err := New(testOrigin(t), host, opts...)
	require.NoError(t, err)
	return w
}

func push(t *testing.T, w *Worker, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Push(ctx, data).Wait(ctx))
}

func click(t *testing.T, w *Worker, n ShownNotification) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Click(ctx, n).Wait(ctx))
}

func TestCriticalPushAndClick(t *testing.T) {
	t.Parallel()

	host := &Recorder{}
	w := newTestWorker(t, host)

	push(t, w, []byte(`{"title":"Disk","body":"full","url":"/alerts/1","severity":"critical"}`))

	shown := host.Last()
	require.NotNil(t, shown)
	assert.Equal(t, "Disk", shown.Title)
	assert.Equal(t, "full", shown.Options.Body)
	assert.True(t, shown.Options.RequireInteraction)
	assert.True(t, shown.Options.Renotify)
	assert.Equal(t, DefaultCriticalTag, shown.Options.Tag)
	assert.Equal(t, StrongVibration, shown.Options.Vibrate)
	assert.Equal(t, "/alerts/1", shown.Options.Data.URL)

	click(t, w, shown)
	assert.True(t, shown.Closed())
	assert.Equal(t, []string{"https://relay.example.com/alerts/1"}, host.Opened())
}

func TestEmptyPayloadUsesDefaults(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{nil, {}} {
		host := &Recorder{}
		w := newTestWorker(t, host)
		push(t, w, data)

		shown := host.Last()
		require.NotNil(t, shown)
		assert.Equal(t, "Notification", shown.Title)
		assert.Equal(t, "New notification", shown.Options.Body)
		assert.Equal(t, "/", shown.Options.Data.URL)
		assert.Equal(t, "https://relay.example.com"+DefaultIcon, shown.Options.Icon)
		assert.Equal(t, "https://relay.example.com"+DefaultBadge, shown.Options.Badge)
		assert.Equal(t, shown.Options.Icon, shown.Options.Image)
	}
}

func TestUndecodablePayloadFallsBackToRawText(t *testing.T) {
	t.Parallel()

	cases := []string{"ping", "{not json", `"quoted"`, `[1,2]`, `42`}
	for _, raw := range cases {
		host := &Recorder{}
		w := newTestWorker(t, host)
		push(t, w, []byte(raw))

		shown := host.Last()
		require.NotNil(t, shown, raw)
		assert.Equal(t, "Notification", shown.Title, raw)
		assert.Equal(t, raw, shown.Options.Body, raw)
		assert.Equal(t, "/", shown.Options.Data.URL, raw)
	}
}

func TestMistypedFieldKeepsTheRestOfThePayload(t *testing.T) {
	t.Parallel()

	host := &Recorder{}
	w := newTestWorker(t, host)
	push(t, w, []byte(`{"title":"Disk","body":"full","url":"/alerts/1","severity":"critical","badge":7,"icon":{"src":"x"}}`))

	shown := host.Last()
	require.NotNil(t, shown)
	assert.Equal(t, "Disk", shown.Title)
	assert.Equal(t, "full", shown.Options.Body)
	assert.True(t, shown.Options.RequireInteraction)
	assert.True(t, shown.Options.Renotify)
	assert.Equal(t, DefaultCriticalTag, shown.Options.Tag)
	assert.Equal(t, "/alerts/1", shown.Options.Data.URL)
	assert.Equal(t, "https://relay.example.com/7", shown.Options.Badge)
	assert.Equal(t, "https://relay.example.com"+DefaultIcon, shown.Options.Icon)
}

func TestInfoPushStacksAndOpensRoot(t *testing.T) {
	t.Parallel()

	host := &Recorder{}
	w := newTestWorker(t, host)

	push(t, w, []byte(`{"severity":"info"}`))
	push(t, w, []byte(`{"severity":"info"}`))

	shown := host.Shown()
	require.Len(t, shown, 2)
	for _, s := range shown {
		assert.False(t, s.Options.RequireInteraction)
		assert.False(t, s.Options.Renotify)
		assert.Empty(t, s.Options.Vibrate)
		assert.NotEqual(t, DefaultCriticalTag, s.Options.Tag)
	}
	assert.NotEqual(t, shown[0].Options.Tag, shown[1].Options.Tag)

	click(t, w, shown[0])
	assert.Equal(t, []string{"https://relay.example.com/"}, host.Opened())
}

func TestSeverityGatesOnlyPresentation(t *testing.T) {
	t.Parallel()

	base := `{"title":"t","body":"b","url":"/x","icon":"https://cdn.example.net/i.png","badge":"b.png"`
	for _, sev := range []string{"warning", "info", "debug", ""} {
		host := &Recorder{}
		w := newTestWorker(t, host, WithPresentation(Presentation{InfoVibration: VibrationMild}))
		push(t, w, []byte(base+`,"severity":"`+sev+`"}`))
		push(t, w, []byte(base+`,"severity":"critical"}`))

		shown := host.Shown()
		require.Len(t, shown, 2)
		info, crit := shown[0].Options, shown[1].Options

		assert.False(t, info.Renotify)
		assert.False(t, info.RequireInteraction)
		assert.Equal(t, MildVibration, info.Vibrate)
		assert.True(t, crit.Renotify)
		assert.True(t, crit.RequireInteraction)

		assert.Equal(t, info.Body, crit.Body)
		assert.Equal(t, "https://cdn.example.net/i.png", info.Icon)
		assert.Equal(t, info.Icon, crit.Icon)
		assert.Equal(t, "https://relay.example.com/b.png", info.Badge)
		assert.Equal(t, info.Badge, crit.Badge)
		assert.Equal(t, info.Data, crit.Data)
	}
}

func TestLegacyCriticalFlag(t *testing.T) {
	t.Parallel()

	host := &Recorder{}
	w := newTestWorker(t, host)
	push(t, w, []byte(`{"title":"Lost","body":"node","url":"/","critical":"true"}`))
	assert.Equal(t, DefaultCriticalTag, host.Last().Options.Tag)

	push(t, w, []byte(`{"title":"Odd","critical":{"x":1}}`))
	assert.Equal(t, "Odd", host.Last().Title)
	assert.False(t, host.Last().Options.Renotify)
}

func TestClickAlwaysStaysOnOrigin(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                           "https://relay.example.com/",
		"/":                          "https://relay.example.com/",
		"/alerts/1?x=1#top":          "https://relay.example.com/alerts/1?x=1#top",
		"alerts":                     "https://relay.example.com/alerts",
		"https://evil.example.org/p": "https://relay.example.com/p",
		"//evil.example.org/p":       "https://relay.example.com/p",
	}
	for stored, want := range cases {
		host := &Recorder{}
		w := newTestWorker(t, host)
		n := &Shown{Options: NotificationOptions{Data: NotificationData{URL: stored}}}
		click(t, w, n)
		require.Len(t, host.Opened(), 1)
		assert.Equal(t, want, host.Opened()[0], stored)
		assert.True(t, strings.HasPrefix(host.Opened()[0], "https://relay.example.com/"))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	host := &Recorder{}
	w := newTestWorker(t, host)
	n := &Shown{}
	n.Close()
	click(t, w, n)
	click(t, w, n)
	assert.True(t, n.Closed())
	assert.Len(t, host.Opened(), 2)
}

type failingHost struct{ Recorder }

var errDenied = errors.New("permission denied")

func (f *failingHost) ShowNotification(context.Context, string, NotificationOptions) error {
	return errDenied
}

func TestHostFailurePropagates(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, &failingHost{})
	err := w.Push(context.Background(), []byte(`{}`)).Wait(context.Background())
	require.ErrorIs(t, err, errDenied)
}

type blockingHost struct {
	Recorder
	release chan struct{}
}

func (b *blockingHost) ShowNotification(ctx context.Context, title string, opts NotificationOptions) error {
	<-b.release
	return b.Recorder.ShowNotification(ctx, title, opts)
}

func TestCompletionWaitsForShow(t *testing.T) {
	t.Parallel()

	host := &blockingHost{release: make(chan struct{})}
	w := newTestWorker(t, host)
	c := w.Push(context.Background(), nil)

	select {
	case <-c.Done():
		t.Fatal("completion resolved before the show call returned")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	close(host.release)
	require.NoError(t, c.Wait(context.Background()))
	require.Len(t, host.Shown(), 1)
}

func TestUnknownEvent(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, &Recorder{})
	err := w.Dispatch(context.Background(), nil).Wait(context.Background())
	require.ErrorIs(t, err, ErrUnknownEvent)
	err = w.Dispatch(context.Background(), ClickEvent{}).Wait(context.Background())
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDiagnosticFetch(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	var hits int32
	httpmock.RegisterResponder(http.MethodGet, "https://relay.example.com/static/notification-icon.png",
		func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&hits, 1)
			return httpmock.NewStringResponse(http.StatusOK, "png"), nil
		},
	)
	httpmock.RegisterResponder(http.MethodGet, "https://down.example.net/i.png",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	host := &Recorder{}
	w := newTestWorker(t, host,
		WithHTTPClient(client),
		WithPresentation(Presentation{DiagnosticFetch: true}),
	)

	push(t, w, []byte(`{"title":"a"}`))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	push(t, w, []byte(`{"title":"b","icon":"https://down.example.net/i.png"}`))
	require.Len(t, host.Shown(), 2)
	assert.Equal(t, "b", host.Last().Title)
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(&url.URL{Path: "/"}, &Recorder{})
	require.Error(t, err)
	_, err = New(testOrigin(t), nil)
	require.Error(t, err)
}
