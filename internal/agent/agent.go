// Package agent runs the collection side of vmwatch: it samples the host on
// a fixed interval, pushes sealed audits to the server and serves the
// command endpoint.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Schera-ole/vmwatch/internal/collector"
	"github.com/Schera-ole/vmwatch/internal/command"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	middlewareinternal "github.com/Schera-ole/vmwatch/internal/middleware"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/telemetry"
)

// Job is one collected payload waiting to be sent.
type Job struct {
	Category  models.Category
	Payload   string
	Timestamp time.Time
}

// AuditSender delivers a payload to the server.
type AuditSender interface {
	Send(ctx context.Context, category models.Category, payload string, ts time.Time) error
}

// Agent schedules collectors and feeds their output to a pool of senders.
type Agent struct {
	collectors []collector.Collector
	sender     AuditSender
	interval   time.Duration
	workers    int
	logger     *zap.SugaredLogger
}

// New creates an Agent.
func New(cfg Config, collectors []collector.Collector, sender AuditSender, logger *zap.SugaredLogger) *Agent {
	workers := cfg.RateLimit
	if workers <= 0 {
		workers = 1
	}
	return &Agent{
		collectors: collectors,
		sender:     sender,
		interval:   cfg.PollInterval,
		workers:    workers,
		logger:     logger,
	}
}

// BuildCollectors instantiates the collectors named in cfg.
func BuildCollectors(cfg Config) ([]collector.Collector, error) {
	var out []collector.Collector
	for _, name := range cfg.Collectors {
		category, ok := models.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown collector %q", internalerrors.ErrConfiguration, name)
		}
		switch category {
		case models.CategoryVMCPU:
			out = append(out, collector.CPU{})
		case models.CategoryVMMemory:
			out = append(out, collector.Memory{})
		case models.CategoryVMFilesystem:
			out = append(out, collector.Filesystem{})
		case models.CategoryVMUsers:
			out = append(out, collector.Users{})
		case models.CategoryDockerContainerResource:
			docker, err := collector.NewDocker(cfg.DockerHost)
			if err != nil {
				return nil, err
			}
			out = append(out, docker)
		case models.CategoryUnknown:
			return nil, fmt.Errorf("%w: unknown collector %q", internalerrors.ErrConfiguration, name)
		}
	}
	return out, nil
}

// Run collects on every tick until ctx is done, then drains the queue.
func (a *Agent) Run(ctx context.Context) error {
	jobs := make(chan Job, len(a.collectors)*4)

	// Senders keep their own context so queued audits still go out while
	// shutting down.
	sendCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for w := 1; w <= a.workers; w++ {
		g.Go(func() error {
			a.worker(sendCtx, jobs)
			return nil
		})
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.collect(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return g.Wait()
		case <-ticker.C:
			a.collect(ctx, jobs)
		}
	}
}

func (a *Agent) collect(ctx context.Context, jobs chan<- Job) {
	for _, c := range a.collectors {
		payload, err := c.Collect(ctx)
		if err != nil {
			a.logger.Warnw("collection failed", "category", c.Category(), "error", err)
			continue
		}
		if payload == "" {
			a.logger.Debugw("nothing collected", "category", c.Category())
			continue
		}
		job := Job{Category: c.Category(), Payload: payload, Timestamp: time.Now()}
		select {
		case jobs <- job:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) worker(ctx context.Context, jobs <-chan Job) {
	for job := range jobs {
		if err := a.sender.Send(ctx, job.Category, job.Payload, job.Timestamp); err != nil {
			telemetry.AuditsSent.WithLabelValues(job.Category.String(), "failed").Inc()
			a.logger.Errorw("error sending audit", "category", job.Category, "error", err)
			continue
		}
		telemetry.AuditsSent.WithLabelValues(job.Category.String(), "sent").Inc()
	}
}

// Router serves the agent command endpoint and the liveness probe.
func Router(ch *command.Channel, logger *zap.SugaredLogger) chi.Router {
	router := chi.NewRouter()
	router.Use(middlewareinternal.LoggingMiddleware(logger))
	router.Use(middleware.StripSlashes)
	router.Post("/command", command.Handler(ch))
	router.Get("/ping", command.PingHandler)
	router.Method(http.MethodGet, "/metrics", telemetry.Handler())
	return router
}
