package store

import (
	"context"
	"time"

	"github.com/rendis/autoprogress/pkg/schema"
)

// Directory is the instance lookup and persistence contract the progression
// controller depends on.
type Directory interface {
	// GetInstance returns the most recent instance attached to the record, or
	// nil, nil when the record has none.
	GetInstance(ctx context.Context, entityType, entityID string) (*schema.WorkflowInstance, error)
	// Save persists inst if its Version still matches the stored one and bumps
	// the version. A lost update returns a CONFLICT error.
	Save(ctx context.Context, inst *schema.WorkflowInstance) error
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	Directory

	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*schema.Workflow, error)

	// Instances
	CreateInstance(ctx context.Context, inst *schema.WorkflowInstance) error
	GetInstanceByID(ctx context.Context, id string) (*schema.WorkflowInstance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*schema.WorkflowInstance, error)

	// Risk appetites
	CreateRiskAppetite(ctx context.Context, a *schema.RiskAppetite) error
	ListRiskAppetites(ctx context.Context, tenant string) ([]*schema.RiskAppetite, error)

	// Sweeps
	RecordSweep(ctx context.Context, run *SweepRun) error
	ListSweeps(ctx context.Context, limit int) ([]*SweepRun, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// WorkflowValidator checks a template before it is stored.
type WorkflowValidator interface {
	ValidateWorkflow(wf *schema.Workflow) error
}

// InstanceFilter narrows ListInstances. Zero values match everything.
type InstanceFilter struct {
	Status     *schema.InstanceStatus
	EntityType string
	WorkflowID string
	Limit      int
	Offset     int
}

func (f InstanceFilter) matches(inst *schema.WorkflowInstance) bool {
	if f.Status != nil && inst.Status != *f.Status {
		return false
	}
	if f.EntityType != "" && inst.EntityType != f.EntityType {
		return false
	}
	if f.WorkflowID != "" && (inst.Workflow == nil || inst.Workflow.ID != f.WorkflowID) {
		return false
	}
	return true
}

// SweepRun is the persisted outcome of one sweep over in-progress instances.
type SweepRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Total      int       `json:"total"`
	Progressed int       `json:"progressed"`
	Skipped    int       `json:"skipped"`
	Overdue    int       `json:"overdue"`
	Errors     int       `json:"errors"`
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	validator WorkflowValidator
}

// WithValidator runs v on every workflow passed to CreateWorkflow.
func WithValidator(v WorkflowValidator) Option {
	return func(o *options) { o.validator = v }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) validate(wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	if o.validator == nil {
		return nil
	}
	return o.validator.ValidateWorkflow(wf)
}
