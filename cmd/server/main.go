package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/intervue/interview-rtc/internal/adapters/http"
	"github.com/intervue/interview-rtc/internal/app"
	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/ice"
	"github.com/intervue/interview-rtc/internal/pipeline"
	"github.com/intervue/interview-rtc/internal/signaling"
	"github.com/intervue/interview-rtc/internal/streaming"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	mgr := signaling.NewManager(cfg.Signaling)
	iceSvc := ice.NewService(cfg.ICE)
	rec, err := streaming.NewRecorder(cfg.Recording)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage root")
	}

	var coord *app.Coordinator
	pl := pipeline.New(cfg.Pipeline, pipeline.DefaultAnalyzers(), func(job *domain.ProcessingJob) {
		coord.OnResult(job)
	})
	coord = app.NewCoordinator(mgr, rec, pl)
	mgr.Subscribe(coord)

	go mgr.Run(ctx)
	go iceSvc.Run(ctx)
	go rec.RunQualityMonitor(ctx)
	go pl.Run(ctx)

	r := router.SetupRouter(ctx, router.Deps{Cfg: cfg, Coord: coord, ICE: iceSvc})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("interview-rtc server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// In-flight analysis results are flushed before exit.
	if err := pl.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pipeline drain cut short")
	}
	rec.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
