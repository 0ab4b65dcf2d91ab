// Package daemon runs checkflow pipelines on cron schedules and exposes run
// history and manual triggering over a small HTTP API. One pipeline run
// executes at a time: the target trees are rewritten in place by the
// sort/format steps, so runs are never overlapped.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	checkflow "github.com/petal-labs/checkflow"
	"github.com/petal-labs/checkflow/bus"
	"github.com/petal-labs/checkflow/loader"
)

// Runner executes the configured pipeline once and reports its result.
type Runner func(ctx context.Context) (*checkflow.RunResult, error)

// Config controls daemon dependencies.
type Config struct {
	// Addr is the HTTP listen address (default "127.0.0.1:8799").
	Addr string

	// Schedules declares cron-driven runs (UTC expressions).
	Schedules []loader.ScheduleConfig

	// Run executes the pipeline. Required.
	Run Runner

	// Store persists run results for the API. Required.
	Store bus.RunStore

	// Bus distributes runtime events; when set the daemon logs them.
	Bus bus.EventBus

	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
}

// Daemon schedules pipeline runs and serves the HTTP API.
type Daemon struct {
	cfg    Config
	log    *zap.Logger
	cron   *cron.Cron
	server *http.Server

	runMu sync.Mutex // serializes pipeline runs
}

// New validates the configuration (including every cron expression) and
// builds a daemon.
func New(cfg Config) (*Daemon, error) {
	if cfg.Run == nil {
		return nil, errors.New("daemon: Run is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("daemon: Store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8799"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for _, s := range cfg.Schedules {
		if _, err := parseCronExpressionUTC(s.Cron); err != nil {
			return nil, fmt.Errorf("daemon: schedule %q: %w", s.Name, err)
		}
	}

	return &Daemon{
		cfg:  cfg,
		log:  log,
		cron: cron.New(cron.WithParser(standardCronParser), cron.WithLocation(time.UTC)),
	}, nil
}

// Start runs the scheduler and HTTP server until ctx is canceled.
func (d *Daemon) Start(ctx context.Context) error {
	for _, s := range d.cfg.Schedules {
		schedule := s
		_, err := d.cron.AddFunc(schedule.Cron, func() {
			d.log.Info("scheduled run starting",
				zap.String("schedule", schedule.Name),
				zap.String("cron", schedule.Cron))
			d.runOnce(ctx, "schedule:"+schedule.Name)
		})
		if err != nil {
			return fmt.Errorf("daemon: add schedule %q: %w", schedule.Name, err)
		}
	}
	d.cron.Start()
	defer d.cron.Stop()

	if d.cfg.Bus != nil {
		sub := d.cfg.Bus.SubscribeAll()
		defer sub.Close()
		go d.logEvents(sub)
	}

	d.server = &http.Server{
		Addr:              d.cfg.Addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("daemon listening", zap.String("addr", d.cfg.Addr))
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("daemon: serve: %w", err)
	}
}

// NextRuns reports the next fire time for each schedule, for status output.
func (d *Daemon) NextRuns(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(d.cfg.Schedules))
	for _, s := range d.cfg.Schedules {
		if next, err := nextCronRunUTC(s.Cron, now); err == nil {
			out[s.Name] = next
		}
	}
	return out
}

// runOnce executes the pipeline under the run mutex and persists the result.
func (d *Daemon) runOnce(ctx context.Context, origin string) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	result, err := d.cfg.Run(ctx)
	if err != nil {
		d.log.Error("pipeline run failed to complete",
			zap.String("origin", origin),
			zap.Error(err))
		return
	}

	if saveErr := d.cfg.Store.SaveRun(ctx, *result); saveErr != nil {
		d.log.Error("saving run record", zap.String("run_id", result.RunID), zap.Error(saveErr))
	}

	if result.Succeeded() {
		d.log.Info("pipeline run completed",
			zap.String("origin", origin),
			zap.String("run_id", result.RunID),
			zap.Duration("elapsed", result.Elapsed))
	} else {
		d.log.Warn("pipeline run failed",
			zap.String("origin", origin),
			zap.String("run_id", result.RunID),
			zap.String("fatal_step", result.FatalStepID),
			zap.Int("exit_code", result.ExitCode))
	}
}

func (d *Daemon) logEvents(sub bus.Subscription) {
	for e := range sub.Events() {
		fields := []zap.Field{
			zap.String("run_id", e.RunID),
			zap.Uint64("seq", e.Seq),
		}
		if e.StepID != "" {
			fields = append(fields, zap.String("step", e.StepID), zap.String("tool", e.Tool))
		}
		switch e.Kind {
		case checkflow.EventStepFailed:
			d.log.Warn(e.Kind.String(), fields...)
		default:
			d.log.Debug(e.Kind.String(), fields...)
		}
	}
}
