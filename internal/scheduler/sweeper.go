package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/autoprogress/internal/engine"
	"github.com/rendis/autoprogress/internal/logging"
	"github.com/rendis/autoprogress/internal/metrics"
	"github.com/rendis/autoprogress/internal/store"
	"github.com/rendis/autoprogress/pkg/schema"
)

// RecordLoader fetches the record a workflow instance is attached to.
// It returns nil, nil when the record no longer exists.
type RecordLoader interface {
	LoadRecord(ctx context.Context, entityType, entityID string) (any, error)
}

// Report summarizes one sweep. In a dry run Progressed counts instances that
// would have advanced.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Total      int       `json:"total"`
	Progressed int       `json:"progressed"`
	Skipped    int       `json:"skipped"`
	Overdue    int       `json:"overdue"`
	Errors     int       `json:"errors"`
}

// Sweeper periodically re-checks every in-progress instance so that records
// which became ready without a write (time-based data, appetite changes) still
// advance.
type Sweeper struct {
	store      store.Store
	loader     RecordLoader
	progressor *engine.Progressor
	parser     cron.Parser
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper.
func NewSweeper(s store.Store, loader RecordLoader, p *engine.Progressor, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      s,
		loader:     loader,
		progressor: p,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep checks every in-progress instance once. A failure on one instance is
// counted and logged; only listing failures abort the sweep.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, schema.NewError(schema.ErrCodeConflict, "sweep already running")
	}
	defer s.running.Store(false)

	report := &Report{StartedAt: s.now(), DryRun: dryRun}

	active := schema.InstanceStatusInProgress
	instances, err := s.store.ListInstances(ctx, store.InstanceFilter{Status: &active})
	if err != nil {
		return nil, fmt.Errorf("list in-progress instances: %w", err)
	}

	for _, inst := range instances {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.Total++
		if inst.IsOverdue(report.StartedAt) {
			report.Overdue++
		}
		ictx := logging.WithEntity(logging.WithInstanceID(ctx, inst.ID), inst.EntityType, inst.EntityID)
		progressed, err := s.sweepOne(ictx, inst, dryRun)
		switch {
		case err != nil:
			report.Errors++
			logging.LogWith(ictx, s.logger).WarnContext(ctx, "sweep failed for instance",
				slog.String("error", err.Error()),
			)
		case progressed:
			report.Progressed++
		default:
			report.Skipped++
		}
	}

	report.FinishedAt = s.now()
	metrics.RecordSweep(dryRun, report.Overdue, report.FinishedAt.Sub(report.StartedAt).Seconds())

	if err := s.store.RecordSweep(ctx, &store.SweepRun{
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		DryRun:     report.DryRun,
		Total:      report.Total,
		Progressed: report.Progressed,
		Skipped:    report.Skipped,
		Overdue:    report.Overdue,
		Errors:     report.Errors,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to record sweep", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "sweep finished",
		slog.Bool("dry_run", dryRun),
		slog.Int("total", report.Total),
		slog.Int("progressed", report.Progressed),
		slog.Int("skipped", report.Skipped),
		slog.Int("overdue", report.Overdue),
		slog.Int("errors", report.Errors),
	)
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, inst *schema.WorkflowInstance, dryRun bool) (bool, error) {
	rec, err := s.loader.LoadRecord(ctx, inst.EntityType, inst.EntityID)
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		s.logger.DebugContext(ctx, "record not found for instance",
			slog.String("instance_id", inst.ID),
			slog.String("entity", inst.EntityType+"/"+inst.EntityID),
		)
		return false, nil
	}

	if dryRun {
		d, err := s.progressor.Preview(ctx, rec)
		if err != nil {
			return false, err
		}
		return d.Ready(), nil
	}
	return s.progressor.CheckAndProgress(ctx, rec, schema.SystemActor)
}

// NextRun computes the next time spec fires after from.
func (s *Sweeper) NextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

// Start runs a sweep every time spec fires until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context, spec string, dryRun bool) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx, schedule, dryRun)
	s.logger.Info("sweeper started", slog.String("schedule", spec))
	return nil
}

func (s *Sweeper) loop(ctx context.Context, schedule cron.Schedule, dryRun bool) {
	defer close(s.done)

	for {
		now := s.now()
		timer := time.NewTimer(schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.Sweep(ctx, dryRun); err != nil {
				s.logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop shuts the loop down and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("sweeper stopped")
	return nil
}
