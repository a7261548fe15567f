package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoprogress/internal/conditions"
	"github.com/rendis/autoprogress/internal/logging"
	"github.com/rendis/autoprogress/internal/metrics"
	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/internal/store"
	"github.com/rendis/autoprogress/pkg/schema"
)

// Reasons a record is not progressed before any condition is consulted.
const (
	ReasonUnsaved       = "unsaved_record"
	ReasonNoInstance    = "no_instance"
	ReasonNotInProgress = "not_in_progress"
	ReasonNoCurrentStep = "no_current_step"
)

// DefaultChainLimit is the number of steps one call may approve.
const DefaultChainLimit = 1

// Decision is the outcome of evaluating a record against its workflow
// instance without mutating anything.
type Decision struct {
	EntityType string                   `json:"entity_type"`
	EntityID   string                   `json:"entity_id,omitempty"`
	InstanceID string                   `json:"instance_id,omitempty"`
	Instance   *schema.WorkflowInstance `json:"-"`
	StepID     string                   `json:"step_id,omitempty"`
	Reason     string                   `json:"reason"`
	Condition  conditions.Result        `json:"condition"`
}

// Ready reports whether the current step may be approved.
func (d *Decision) Ready() bool {
	return d.Instance != nil && d.Condition.Ready
}

// Progressor advances workflow instances whose current step condition is met.
type Progressor struct {
	dir        store.Directory
	checker    *conditions.Checker
	fsm        *InstanceFSM
	chainLimit int
	now        func() time.Time
	logger     *slog.Logger
}

// ProgressorOption configures a Progressor.
type ProgressorOption func(*Progressor)

// WithChainLimit bounds how many consecutive ready steps one call approves.
// Values below 1 are treated as 1.
func WithChainLimit(n int) ProgressorOption {
	return func(p *Progressor) { p.chainLimit = max(n, 1) }
}

// WithFSM sets the instance state machine, to share hooks with a Starter.
func WithFSM(f *InstanceFSM) ProgressorOption {
	return func(p *Progressor) { p.fsm = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProgressorOption {
	return func(p *Progressor) { p.now = now }
}

// WithProgressLogger sets the logger.
func WithProgressLogger(l *slog.Logger) ProgressorOption {
	return func(p *Progressor) { p.logger = l }
}

// NewProgressor creates a Progressor reading and saving instances through dir.
func NewProgressor(dir store.Directory, checker *conditions.Checker, opts ...ProgressorOption) *Progressor {
	p := &Progressor{
		dir:        dir,
		checker:    checker,
		chainLimit: DefaultChainLimit,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fsm == nil {
		p.fsm = NewInstanceFSM()
	}
	if p.checker == nil {
		p.checker = conditions.NewChecker(conditions.WithLogger(p.logger))
	}
	return p
}

// Preview evaluates rec against its instance's current step without saving.
// Only directory read errors are returned.
func (p *Progressor) Preview(ctx context.Context, rec any) (*Decision, error) {
	d := &Decision{EntityType: record.TypeName(rec)}

	id, ok := record.Identify(p.checker.Reader(), rec)
	if !ok {
		d.Reason = ReasonUnsaved
		return d, nil
	}
	d.EntityID = id

	inst, err := p.dir.GetInstance(ctx, d.EntityType, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		d.Reason = ReasonNoInstance
		return d, nil
	}
	d.Instance = inst
	d.InstanceID = inst.ID
	if inst.Status != schema.InstanceStatusInProgress {
		d.Reason = ReasonNotInProgress
		return d, nil
	}
	step := inst.CurrentStep()
	if step == nil {
		d.Reason = ReasonNoCurrentStep
		return d, nil
	}
	d.StepID = step.ID

	d.Condition = p.check(ctx, step, rec)
	d.Reason = d.Condition.Reason
	return d, nil
}

// CheckAndProgress approves the current step of rec's workflow instance when
// its condition is met, then saves the instance once. It reports whether a
// transition happened. Records without an in-progress instance, or whose
// current step is not ready, return false with no side effects.
func (p *Progressor) CheckAndProgress(ctx context.Context, rec any, actor schema.Actor) (bool, error) {
	if actor.ID == "" {
		actor = schema.SystemActor
	}

	d, err := p.Preview(ctx, rec)
	if err != nil {
		metrics.RecordCheck(metrics.OutcomeError, schema.CodeOf(err))
		p.logger.ErrorContext(ctx, "failed to load workflow instance",
			slog.String("entity_type", record.TypeName(rec)),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	if !d.Ready() {
		metrics.RecordCheck(metrics.OutcomeSkipped, d.Reason)
		p.logger.DebugContext(ctx, "auto-progression skipped",
			slog.String("entity_type", d.EntityType),
			slog.String("entity_id", d.EntityID),
			slog.String("step_id", d.StepID),
			slog.String("reason", d.Reason),
			slog.String("detail", d.Condition.Detail),
		)
		return false, nil
	}

	inst := d.Instance
	ctx = logging.WithIDs(ctx, inst.ID, d.StepID, actor.ID)
	ctx = logging.WithEntity(ctx, d.EntityType, d.EntityID)

	var approved []string
	for {
		step := inst.CurrentStep()
		if err := p.approve(ctx, inst, step, actor, d.EntityType); err != nil {
			metrics.RecordCheck(metrics.OutcomeError, schema.CodeOf(err))
			return false, err
		}
		approved = append(approved, step.ID)

		if inst.Status != schema.InstanceStatusInProgress || len(approved) >= p.chainLimit {
			break
		}
		if !p.check(ctx, inst.CurrentStep(), rec).Ready {
			break
		}
	}

	if err := p.dir.Save(ctx, inst); err != nil {
		metrics.RecordCheck(metrics.OutcomeError, schema.CodeOf(err))
		p.logger.ErrorContext(ctx, "failed to save workflow instance", slog.String("error", err.Error()))
		return false, err
	}

	for range approved {
		metrics.RecordStepAdvanced()
	}
	metrics.RecordCheck(metrics.OutcomeProgressed, "")
	p.logger.InfoContext(ctx, "workflow auto-progressed",
		slog.Any("approved_steps", approved),
		slog.String("current_step_id", inst.CurrentStepID),
		slog.String("status", string(inst.Status)),
	)
	return true, nil
}

func (p *Progressor) check(ctx context.Context, step *schema.WorkflowStep, rec any) conditions.Result {
	start := time.Now()
	res := p.checker.Check(ctx, step, rec)
	metrics.RecordCondition(string(res.Type), res.Reason, time.Since(start).Seconds())
	return res
}

// approve records step as auto-approved and moves inst to the following step,
// or completes it when step is the last one.
func (p *Progressor) approve(ctx context.Context, inst *schema.WorkflowInstance, step *schema.WorkflowStep, actor schema.Actor, entityType string) error {
	now := p.now()
	next, hasNext := inst.NextStep()

	inst.CompletedSteps = append(inst.CompletedSteps, step.ID)
	inst.ApprovalHistory = append(inst.ApprovalHistory, schema.HistoryEntry{
		ID:              uuid.New().String(),
		StepID:          step.ID,
		StepName:        step.Name,
		Action:          schema.ActionAutoApproved,
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		Comments:        schema.AutoApprovalComment,
		Timestamp:       now,
		AutoProgression: true,
		TriggerEntity:   entityType,
	})

	if !hasNext {
		if err := p.fsm.Transition(ctx, inst, schema.InstanceStatusCompleted); err != nil {
			return err
		}
		inst.CurrentStepID = ""
		inst.CompletedAt = &now
		return nil
	}

	inst.CurrentStepID = next.ID
	if next.DaysToComplete != 0 {
		due := now.AddDate(0, 0, next.DaysToComplete)
		inst.DueDate = &due
	}
	return nil
}
