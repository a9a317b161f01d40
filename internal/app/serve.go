package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/health"
	"github.com/silencevoice/silencevoice/internal/httpserver"
	"github.com/silencevoice/silencevoice/internal/tts"
)

// commandServe runs the synthesis proxy and, when configured, its gRPC
// health endpoint until ctx is cancelled.
func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	apiKey := strings.TrimSpace(os.Getenv(tts.CredentialEnv))
	if apiKey == "" {
		fmt.Fprintf(r.Stderr, "warning: %s is not set; synthesis requests will fail\n", tts.CredentialEnv)
		logger.Warn("synthesis credential missing", "env", tts.CredentialEnv)
	}

	router := tts.NewRouter(tts.NewElevenLabs(apiKey), tts.Options{
		AllowedOrigins:     cfg.TTSServer.AllowedOrigins,
		RateLimitPerMinute: cfg.TTSServer.RateLimitPerMinute,
	}, logger)

	httpListener, err := httpserver.Listen(cfg.TTSServer.Listen)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	healthErrCh := make(chan error, 1)
	if addr := strings.TrimSpace(cfg.TTSServer.GRPCHealth); addr != "" {
		healthListener, err := httpserver.Listen(addr)
		if err != nil {
			_ = httpListener.Close()
			fmt.Fprintf(r.Stderr, "error: grpc health: %v\n", err)
			return 1
		}
		healthSrv := health.NewServer(logger, health.ServiceTTS)
		healthSrv.SetServing(health.ServiceTTS, apiKey != "")
		go func() {
			healthErrCh <- healthSrv.Serve(serveCtx, healthListener)
		}()
		logger.Info("grpc health listening", "addr", healthListener.Addr().String())
	} else {
		healthErrCh <- nil
	}

	logger.Info("synthesis proxy listening", "addr", httpListener.Addr().String())
	fmt.Fprintf(r.Stdout, "synthesis proxy listening on http://%s/api/tts\n", httpListener.Addr().String())

	exitCode := 0
	if err := httpserver.Serve(serveCtx, httpListener, router); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		exitCode = 1
	}
	cancel()
	if err := <-healthErrCh; err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		exitCode = 1
	}
	return exitCode
}
