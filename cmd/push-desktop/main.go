package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/bark-labs/webpush-relay/internal/config"
	"github.com/bark-labs/webpush-relay/internal/desktop"
	"github.com/bark-labs/webpush-relay/internal/logging"
	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v3"
	"github.com/rs/zerolog"
)

func main() {
	if err := runDesktop(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "push-desktop: %v\n", err)
		os.Exit(1)
	}
}

type desktopFlags struct {
	stream          string
	origin          string
	token           string
	iconDir         string
	infoVibration   string
	diagnosticFetch bool
	debug           bool
}

func parseFlags(args []string) (*desktopFlags, error) {
	var (
		flagset         = flag.NewFlagSet("push-desktop", flag.ContinueOnError)
		flStream        = flagset.String("stream", "ws://localhost:8091/stream", "websocket stream URL of the relay")
		flOrigin        = flagset.String("origin", "http://localhost:8090", "origin notifications and clicks resolve against")
		flToken         = flagset.String("token", "", "token for the stream when auth is enabled")
		flIconDir       = flagset.String("icon-dir", "", "directory holding local copies of notification icons")
		flInfoVibration = flagset.String("info-vibration", "none", "vibration for non-critical notifications: none or mild")
		flDiagnostic    = flagset.Bool("diagnostic-fetch", true, "fetch icon URLs and log the result")
		flDebug         = flagset.Bool("debug", false, "enable debug logging")
	)
	if err := ff.Parse(flagset, args, ff.WithEnvVarPrefix("PUSH_DESKTOP")); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	return &desktopFlags{
		stream:          *flStream,
		origin:          *flOrigin,
		token:           *flToken,
		iconDir:         *flIconDir,
		infoVibration:   *flInfoVibration,
		diagnosticFetch: *flDiagnostic,
		debug:           *flDebug,
	}, nil
}

func runDesktop(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	level := "info"
	if flags.debug {
		level = "debug"
	}
	logger := logging.New(config.LogConfig{Level: level, Console: true})
	logger.Info().Int("pid", os.Getpid()).Msg("starting")

	origin, err := worker.ParseOrigin(flags.origin)
	if err != nil {
		return err
	}
	profile, err := worker.ParseVibrationProfile(flags.infoVibration)
	if err != nil {
		return err
	}
	pres := worker.DefaultPresentation()
	pres.InfoVibration = profile
	pres.DiagnosticFetch = flags.diagnosticFetch

	host, err := desktop.NewHost("webpush-relay", flags.iconDir, logging.Component(logger, "desktop"))
	if err != nil {
		return err
	}
	w, err := worker.New(origin, host,
		worker.WithPresentation(pres),
		worker.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		worker.WithLogger(logging.Component(logger, "worker")),
	)
	if err != nil {
		return err
	}

	host.OnClick(func(ctx context.Context, n worker.ShownNotification) {
		if err := w.Click(ctx, n).Wait(ctx); err != nil {
			logger.Warn().Err(err).Msg("notification click")
		}
	})

	reader, err := desktop.NewStreamReader(flags.stream, flags.token, func(ctx context.Context, payload []byte) {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := w.Push(waitCtx, payload).Wait(waitCtx); err != nil {
			logEvent(logger, err).Msg("show notification")
		}
	}, logging.Component(logger, "stream"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(host.Listen, host.Interrupt)
	g.Add(func() error {
		return reader.Run(ctx)
	}, func(error) {
		cancel()
	})

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		logger.Info().Msg("stopped")
		return nil
	}
	return err
}

func logEvent(logger zerolog.Logger, err error) *zerolog.Event {
	if errors.Is(err, desktop.ErrUnsupported) {
		return logger.Debug().Err(err)
	}
	return logger.Warn().Err(err)
}
