package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/silencevoice/silencevoice/internal/capture"
	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/httpserver"
	"github.com/silencevoice/silencevoice/internal/indicator"
	"github.com/silencevoice/silencevoice/internal/ipc"
	"github.com/silencevoice/silencevoice/internal/logging"
	"github.com/silencevoice/silencevoice/internal/output"
	"github.com/silencevoice/silencevoice/internal/recognizer"
	"github.com/silencevoice/silencevoice/internal/recorder"
	"github.com/silencevoice/silencevoice/internal/session"
	"github.com/silencevoice/silencevoice/internal/speech"
	"github.com/silencevoice/silencevoice/internal/statefeed"
)

// commandSession becomes the session owner: it holds the IPC socket, the
// camera stream, and the state feed until ctx is cancelled.
func (r Runner) commandSession(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	owner, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		OnStale: func(path string) {
			logger.Warn("removed stale session socket", "path", path)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		if err := owner.Release(); err != nil {
			logger.Warn("release session socket failed", "error", err.Error())
		}
	}()

	hub := statefeed.NewHub(logger, cfg.Session.StateAllowedOrigins)
	controller := newSessionController(cfg, logger, hub)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- ipc.Serve(serverCtx, owner, controller)
	}()

	feedErrCh := make(chan error, 1)
	if addr := cfg.Session.StateListen; addr != "" {
		feedListener, err := httpserver.Listen(addr)
		if err != nil {
			serverCancel()
			<-ipcErrCh
			fmt.Fprintf(r.Stderr, "error: state feed: %v\n", err)
			return 1
		}
		logger.Info("state feed listening", "addr", feedListener.Addr().String())
		go func() {
			feedErrCh <- httpserver.Serve(serverCtx, feedListener, hub.Handler())
		}()
	} else {
		feedErrCh <- nil
	}

	fmt.Fprintf(r.Stdout, "session ready (%d phrases); press Ctrl+C to end\n", len(controller.Phrases()))
	runErr := controller.Run(ctx)
	serverCancel()

	exitCode := 0
	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		exitCode = 1
	}
	if err := <-ipcErrCh; err != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", err)
		exitCode = 1
	}
	if err := <-feedErrCh; err != nil {
		fmt.Fprintf(r.Stderr, "error: state feed failed: %v\n", err)
		exitCode = 1
	}

	final := controller.State()
	logger.Info("session ended",
		"cycles", final.Cycle,
		"auto_speak", final.AutoSpeak,
		"transcription_length", len(final.Transcription),
	)
	return exitCode
}

// newSessionController wires the capture, recognition, speech, and output
// collaborators from configuration.
func newSessionController(cfg config.Config, logger *slog.Logger, hub *statefeed.Hub) *session.Controller {
	binder := capture.NewBinder(
		capture.NewFFmpegDriver(cfg.Capture, logger),
		capture.ConstraintsFromConfig(cfg.Capture),
		logger,
	)

	remote := speech.NewRemote(cfg.Speech.TTSURL, cfg.Speech.Timeout(), speech.CommandPlayer{Argv: cfg.Speech.Player.Argv})
	local := speech.NewLocal(cfg.Speech.Local.Argv, nil)
	chain := speech.NewChain(logger, remote, local)

	opts := session.Options{
		Binder:           binder,
		Recorder:         recorder.New(cfg.Recorder.MimeType, logger),
		Recognizer:       recognizer.New(cfg.Recognizer.BaseURL, &http.Client{}, logger),
		RecognizeTimeout: cfg.Recognizer.Timeout(),
		Speaker:          chain,
		Indicator:        indicator.New(cfg.Indicator, logger),
		Observers: []session.Observer{
			session.ObserverFunc(func(s session.State) { hub.Publish(s) }),
		},
		Phrases:   cfg.Phrases,
		AutoSpeak: cfg.Speech.AutoSpeak,
		Logger:    logger,
	}
	if committer := output.NewCommitter(cfg.Clipboard, logger); committer.Enabled() {
		opts.Committer = committer
	}
	if cfg.Debug.ClipDump {
		if dir, err := logging.StateDir(); err == nil {
			opts.ClipDumpDir = filepath.Join(dir, "debug")
		}
	}
	return session.NewController(opts)
}
