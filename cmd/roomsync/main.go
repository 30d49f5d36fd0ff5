package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/config"
	job_handler "github.com/xenn00/room-sync/internal/handlers/job-handler"
	"github.com/xenn00/room-sync/internal/routers"
	timeline_service "github.com/xenn00/room-sync/internal/use-case/timeline-case"
	"github.com/xenn00/room-sync/internal/worker"
	"github.com/xenn00/room-sync/state"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// initialize the application
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	configureLogger(config.Conf.App)

	appState, err := state.InitAppState(ctx, stop, config.Conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application state")
	}
	defer appState.Close()

	service := timeline_service.NewTimelineService(appState)
	if appErr := service.Start(ctx); appErr != nil {
		log.Fatal().Err(appErr).Msg("failed to start timeline service")
	}
	log.Info().Str("userID", string(service.UserID())).Msg("timeline service started")

	go func() {
		for artifact := range service.Failures() {
			log.Warn().Str("roomID", string(artifact.RoomID)).Str("artifactID", artifact.ID).Msg("message was never confirmed by the server")
		}
	}()

	var workerPool *worker.WorkerPool
	var jobs job_handler.DeadJobStore
	if appState.Redis != nil && appState.Conf.Worker.Num > 0 {
		workerPool = worker.NewWorkerPool(appState.Redis, appState.Conf.Worker.Num, service)
		workerPool.Start(ctx)
		workerPool.StartDLQWorker(ctx)
		jobs = workerPool
	} else {
		log.Warn().Msg("no redis configured, background jobs run inline")
	}

	server := &http.Server{
		Addr:         appState.Conf.App.Port,
		Handler:      routers.NewRouter(appState, service, jobs),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// serve the application
	go func() {
		log.Info().Msgf("Starting server on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ListenAndServe failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown initiated...")
	// gracefully shutdown the application
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("Server exited gracefully.")
	}

	if err := service.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close timeline service")
	}
	if workerPool != nil {
		workerPool.Wait()
	}
}

// configureLogger keeps the console writer in development and switches to
// JSON lines elsewhere.
func configureLogger(app config.AppSection) {
	if app.Env != "development" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", app.Name).Logger()
	}
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || app.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
