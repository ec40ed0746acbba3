package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/adapters/display"
	router "github.com/dkeye/peercall/internal/adapters/http"
	"github.com/dkeye/peercall/internal/adapters/media"
	"github.com/dkeye/peercall/internal/adapters/rtc"
	sig "github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/adapters/storage"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/call"
	"github.com/dkeye/peercall/internal/app/record"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	hub := core.NewWatcherHub()
	notifier := app.NewNotifier(hub, app.SimplePolicy{})

	devices := media.NewManager(cfg.Media)
	defer devices.Close()

	recordings, err := storage.NewRecordingStore(cfg.Recording.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("recording store")
	}
	recorder := record.NewRecorder(
		record.WebM(cfg.Media.VideoWidth, cfg.Media.VideoHeight),
		recordings,
		cfg.Recording.SampleQueue,
	)

	// One signaling connection for the whole process.
	signaling := sig.NewClient(cfg.Signal)
	if err := signaling.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("url", cfg.Signal.URL).Msg("signaling unavailable, continuing without it")
	}
	defer signaling.Close()

	local := display.NewSurface(display.Local, notifier)
	remote := display.NewSurface(display.Remote, notifier)

	holder := app.NewSessionHolder(func() (*call.Controller, error) {
		transport, err := rtc.NewTransport(cfg.Transport, cfg.Signal)
		if err != nil {
			return nil, err
		}
		return call.NewController(call.Deps{
			Media:     devices,
			Transport: transport,
			Signaling: signaling,
			Local:     local,
			Remote:    remote,
			Recorder:  recorder,
			Events:    notifier,
		}, call.Options{
			Media:      cfg.MediaConstraints(),
			Screen:     cfg.ScreenConstraints(),
			AutoAnswer: cfg.Call.AutoAnswer,
		}), nil
	})
	if _, err := holder.Restart(ctx); err != nil {
		log.Error().Err(err).Msg("session not started, restart it through the API")
	}
	defer holder.Close()

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sessions:   holder,
		Recordings: recordings,
		Hub:        hub,
		Limiter:    sig.NewCallRateLimiter(cfg.API.CallRateLimit, cfg.API.CallRateInterval),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("peercall started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
