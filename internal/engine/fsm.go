package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/autoprogress/internal/metrics"
	"github.com/rendis/autoprogress/pkg/schema"
)

// TransitionHook is called before or after an instance status transition.
// A before hook returning an error aborts the transition.
type TransitionHook func(ctx context.Context, inst *schema.WorkflowInstance, from, to schema.InstanceStatus) error

type hookKey struct {
	from, to schema.InstanceStatus
}

// InstanceFSM guards workflow instance lifecycle transitions.
type InstanceFSM struct {
	mu     sync.Mutex
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewInstanceFSM creates an InstanceFSM with no hooks.
func NewInstanceFSM() *InstanceFSM {
	return &InstanceFSM{
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *InstanceFSM) OnBefore(from, to schema.InstanceStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *InstanceFSM) OnAfter(from, to schema.InstanceStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves inst to the given status. It mutates only inst.Status;
// the caller persists the instance.
func (f *InstanceFSM) Transition(ctx context.Context, inst *schema.WorkflowInstance, to schema.InstanceStatus) error {
	from := inst.Status
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid instance transition: %s -> %s", from, to).
			WithStep(inst.CurrentStepID).
			WithDetails(map[string]any{"instance_id": inst.ID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(ctx, inst, from, to); err != nil {
			return err
		}
	}

	inst.Status = to
	metrics.RecordTransition(string(from), string(to))

	for _, hook := range after {
		if err := hook(ctx, inst, from, to); err != nil {
			return err
		}
	}
	return nil
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to schema.InstanceStatus) bool {
	return slices.Contains(ValidInstanceTransitions[from], to)
}

// ValidInstanceTransitions defines the allowed status transitions for instances.
var ValidInstanceTransitions = map[schema.InstanceStatus][]schema.InstanceStatus{
	schema.InstanceStatusDraft:      {schema.InstanceStatusInProgress, schema.InstanceStatusCancelled},
	schema.InstanceStatusInProgress: {schema.InstanceStatusCompleted, schema.InstanceStatusCancelled},
	schema.InstanceStatusCompleted:  {},
	schema.InstanceStatusCancelled:  {},
}
