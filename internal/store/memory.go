package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoprogress/pkg/schema"
)

// MemoryStore is a process-local Store. Instances are copied on the way in and
// out so callers never share mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	opts      options
	workflows map[string]*schema.Workflow
	wfOrder   []string
	instances map[string]*schema.WorkflowInstance
	instOrder []string
	appetites []*schema.RiskAppetite
	sweeps    []*SweepRun
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:      buildOptions(opts),
		workflows: make(map[string]*schema.Workflow),
		instances: make(map[string]*schema.WorkflowInstance),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Vacuum(context.Context) error  { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *schema.Workflow) error {
	if err := m.opts.validate(wf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s already exists", wf.ID)
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	m.workflows[wf.ID] = wf
	m.wfOrder = append(m.wfOrder, wf.ID)
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return wf, nil
}

func (m *MemoryStore) ListWorkflows(context.Context) ([]*schema.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schema.Workflow, 0, len(m.wfOrder))
	for _, id := range m.wfOrder {
		out = append(out, m.workflows[id])
	}
	return out, nil
}

func (m *MemoryStore) CreateInstance(_ context.Context, inst *schema.WorkflowInstance) error {
	if inst.Workflow == nil {
		return schema.NewError(schema.ErrCodeValidation, "instance has no workflow")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[inst.Workflow.ID]; !ok {
		return storeNotFound("workflow", inst.Workflow.ID)
	}
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if _, ok := m.instances[inst.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %s already exists", inst.ID)
	}
	if inst.Status == "" {
		inst.Status = schema.InstanceStatusDraft
	}
	inst.UpdatedAt = timeOrNow(inst.UpdatedAt)
	inst.Version = 1
	m.instances[inst.ID] = inst.Clone()
	m.instOrder = append(m.instOrder, inst.ID)
	return nil
}

func (m *MemoryStore) GetInstance(_ context.Context, entityType, entityID string) (*schema.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.instOrder) - 1; i >= 0; i-- {
		inst := m.instances[m.instOrder[i]]
		if inst.EntityType == entityType && inst.EntityID == entityID {
			return inst.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetInstanceByID(_ context.Context, id string) (*schema.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, storeNotFound("instance", id)
	}
	return inst.Clone(), nil
}

func (m *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*schema.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.WorkflowInstance
	skipped := 0
	for _, id := range m.instOrder {
		inst := m.instances[id]
		if !filter.matches(inst) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, inst.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, inst *schema.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.instances[inst.ID]
	if !ok {
		return storeNotFound("instance", inst.ID)
	}
	if cur.Version != inst.Version {
		return staleVersion(inst)
	}
	inst.Version++
	inst.UpdatedAt = timeOrNow(time.Time{})
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *MemoryStore) CreateRiskAppetite(_ context.Context, a *schema.RiskAppetite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.ValidFrom = timeOrNow(a.ValidFrom)
	cp := *a
	m.appetites = append(m.appetites, &cp)
	return nil
}

func (m *MemoryStore) ListRiskAppetites(_ context.Context, tenant string) ([]*schema.RiskAppetite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.RiskAppetite
	for _, a := range m.appetites {
		if a.Tenant == tenant {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValidFrom.After(out[j].ValidFrom) })
	return out, nil
}

func (m *MemoryStore) RecordSweep(_ context.Context, run *SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	cp := *run
	m.sweeps = append(m.sweeps, &cp)
	return nil
}

func (m *MemoryStore) ListSweeps(_ context.Context, limit int) ([]*SweepRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SweepRun
	for i := len(m.sweeps) - 1; i >= 0; i-- {
		cp := *m.sweeps[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
