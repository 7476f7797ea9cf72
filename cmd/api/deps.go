package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"ofbconnect/internal/app"
	httphandlers "ofbconnect/internal/interfaces/http"
	"ofbconnect/internal/interfaces/scheduler"
	"ofbconnect/internal/shared/auth"
	"ofbconnect/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	App *app.App

	// Handlers
	OpenFinanceHandler *httphandlers.OpenFinanceHandler
	HealthHandler      *httphandlers.HealthHandler

	// Auth
	JWT *auth.JWT

	// Scheduler is nil when disabled.
	Scheduler *scheduler.Scheduler
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Dependencies, error) {
	a, err := app.Build(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		App:                a,
		OpenFinanceHandler: httphandlers.NewOpenFinanceHandler(a.Connect, a.Connections, a.Consents, a.Engine, a.Messages),
		HealthHandler:      httphandlers.NewHealthHandler(a.Monitor, a.Certs),
		JWT:                auth.NewJWT(cfg.JWT.Secret),
	}

	// Initial and manual syncs share the scheduler's pool so one worker budget
	// bounds the load on the banks.
	sc := cfg.Scheduler
	pool := scheduler.NewWorkerPool(sc.WorkerCount, sc.JobDelay, sc.QueueSize)
	a.Connect.SetSyncQueue(scheduler.NewSyncQueue(pool, a.Engine))

	if !sc.Enabled {
		log.Info().Msg("Scheduler is disabled")
		pool.Start()
		a.AddCloser(func() error {
			pool.ShutdownWithTimeout(shutdownTimeout)
			return nil
		})
		return deps, nil
	}

	sched, err := scheduler.NewScheduler(sc, pool,
		scheduler.DueSyncJobs(a.Connections, a.Engine),
		scheduler.NewConsentSweepJob(a.Connect.ExpireConsents),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	deps.Scheduler = sched
	return deps, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if err := d.App.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}
}
