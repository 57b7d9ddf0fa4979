package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"framecast/internal/obs"
	"framecast/internal/overlay"
	"framecast/internal/platform/config"
	"framecast/internal/platform/logger"
	"framecast/internal/platform/metrics"
	"framecast/internal/recorder"
	"framecast/internal/tasks"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	cfg, err := config.Resolve(config.GetEnv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		// No logger yet; this is a boot-time operator error.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()
	runner := tasks.NewRunner(logger.Component(log, "tasks"))

	device := obs.NewClient(cfg.OBSAddr, cfg.OBSPassword,
		obs.WithOverlayInput(cfg.OverlayInput),
		obs.WithLogger(logger.Component(log, "obs")),
		obs.WithReconnectHook(met.IncDeviceReconnects),
	)

	broadcaster := overlay.NewBroadcaster(logger.Component(log, "overlay"), cfg.HeartbeatInterval)
	svc := recorder.NewService(device, cfg.RecordingsDir, broadcaster, runner,
		logger.Component(log, "recorder"),
		recorder.WithFinalizeDelay(cfg.FinalizeDelay),
	)

	h := recorder.NewHandler(svc, logger.Component(log, "recorder"), met)
	oh := overlay.NewHandler(broadcaster, logger.Component(log, "overlay"))

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetOverlaySubscribers(broadcaster.SubscriberCount())
			met.SetRecordingActive(svc.Active() != "")
		}).ServeHTTP(w, r)
	})

	r.Get("/device/status", h.DeviceStatus)
	r.Get("/device/screenshot", h.Screenshot)
	r.Route("/recording", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/discard", h.Discard)
		r.Post("/transition", h.Transition)
		r.Post("/review", h.Review)
		r.Post("/resume", h.Resume)
	})
	r.Get("/recordings", h.List)
	r.Get("/recordings/stream", h.Stream)
	r.Post("/recordings/flag", h.EditFlags)
	r.Route("/overlay", func(r chi.Router) {
		r.Get("/state", oh.State)
		r.Get("/events", oh.Events)
		r.Post("/update", oh.Update)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go device.RetryLoop(ctx, cfg.ReconnectInterval)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"obs_addr", cfg.OBSAddr,
		"recordings_dir", cfg.RecordingsDir,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	cancel()
	device.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	// Let any in-flight finalization rename or cleanup finish.
	runner.Wait()
	log.Info("server stopped")
}
