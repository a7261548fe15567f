package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoprogress/internal/logging"
	"github.com/rendis/autoprogress/internal/store"
	"github.com/rendis/autoprogress/pkg/schema"
)

// Starter attaches workflow instances to records and cancels them.
type Starter struct {
	store  store.Store
	fsm    *InstanceFSM
	now    func() time.Time
	logger *slog.Logger
}

// NewStarter creates a Starter. A nil fsm gets a fresh InstanceFSM.
func NewStarter(s store.Store, fsm *InstanceFSM, logger *slog.Logger) *Starter {
	if fsm == nil {
		fsm = NewInstanceFSM()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Starter{
		store:  s,
		fsm:    fsm,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Start creates an instance of workflowID for the record and moves it to the
// first step. A record may have only one open (draft or in-progress) instance.
func (s *Starter) Start(ctx context.Context, workflowID, entityType, entityID string, actor schema.Actor) (*schema.WorkflowInstance, error) {
	if entityType == "" || entityID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "entity type and id are required")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(wf.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %s has no steps", wf.ID)
	}
	if wf.EntityType != "" && wf.EntityType != entityType {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow %s applies to %s, not %s", wf.ID, wf.EntityType, entityType)
	}

	existing, err := s.store.GetInstance(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"%s/%s already has an open workflow instance", entityType, entityID).
			WithDetails(map[string]any{"instance_id": existing.ID})
	}

	inst := &schema.WorkflowInstance{
		Workflow:    wf,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      schema.InstanceStatusDraft,
		InitiatedBy: actor.ID,
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	if err := s.fsm.Transition(ctx, inst, schema.InstanceStatusInProgress); err != nil {
		return nil, err
	}
	now := s.now()
	first := wf.Steps[0]
	inst.CurrentStepID = first.ID
	inst.StartedAt = &now
	if first.DaysToComplete != 0 {
		due := now.AddDate(0, 0, first.DaysToComplete)
		inst.DueDate = &due
	}
	inst.ApprovalHistory = append(inst.ApprovalHistory, schema.HistoryEntry{
		ID:        uuid.New().String(),
		StepID:    first.ID,
		StepName:  first.Name,
		Action:    schema.ActionStarted,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Timestamp: now,
	})
	if err := s.store.Save(ctx, inst); err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, inst.ID, first.ID, actor.ID)
	ctx = logging.WithEntity(ctx, entityType, entityID)
	s.logger.InfoContext(ctx, "workflow started", slog.String("workflow_id", wf.ID))
	return inst, nil
}

// Cancel moves an open instance to cancelled.
func (s *Starter) Cancel(ctx context.Context, instanceID string, actor schema.Actor, comment string) (*schema.WorkflowInstance, error) {
	inst, err := s.store.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	stepID := inst.CurrentStepID
	if err := s.fsm.Transition(ctx, inst, schema.InstanceStatusCancelled); err != nil {
		return nil, err
	}
	inst.ApprovalHistory = append(inst.ApprovalHistory, schema.HistoryEntry{
		ID:        uuid.New().String(),
		StepID:    stepID,
		StepName:  stepName(inst, stepID),
		Action:    schema.ActionCancelled,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Comments:  comment,
		Timestamp: s.now(),
	})
	if err := s.store.Save(ctx, inst); err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, inst.ID, stepID, actor.ID)
	s.logger.InfoContext(ctx, "workflow cancelled")
	return inst, nil
}

func stepName(inst *schema.WorkflowInstance, stepID string) string {
	if step := inst.Workflow.Step(stepID); step != nil {
		return step.Name
	}
	return ""
}
