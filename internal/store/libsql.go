package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/autoprogress/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db   *sql.DB
	opts options

	// Published templates are immutable, so loaded workflows are shared
	// between the instances that reference them.
	mu        sync.RWMutex
	workflows map[string]*schema.Workflow
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string, opts ...Option) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{
		db:        db,
		opts:      buildOptions(opts),
		workflows: make(map[string]*schema.Workflow),
	}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return wrapStore("vacuum", err)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if err := s.opts.validate(wf); err != nil {
		return err
	}
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, entity_type, description, steps, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.EntityType), nullStr(wf.Description), string(steps), wf.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s already exists", wf.ID).WithCause(err)
		}
		return wrapStore("create workflow", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	s.mu.RLock()
	wf, ok := s.workflows[id]
	s.mu.RUnlock()
	if ok {
		return wf, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, entity_type, description, steps, created_at FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, wrapStore("get workflow", err)
	}

	s.mu.Lock()
	if cached, ok := s.workflows[id]; ok {
		wf = cached
	} else {
		s.workflows[id] = wf
	}
	s.mu.Unlock()
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, entity_type, description, steps, created_at FROM workflows ORDER BY created_at, id`)
	if err != nil {
		return nil, wrapStore("list workflows", err)
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, wrapStore("list workflows", err)
		}
		out = append(out, wf)
	}
	return out, wrapStore("list workflows", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(sc scanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		entityType, description sql.NullString
		steps                   string
	)
	if err := sc.Scan(&wf.ID, &wf.Name, &entityType, &description, &steps, &wf.CreatedAt); err != nil {
		return nil, err
	}
	wf.EntityType = entityType.String
	wf.Description = description.String
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return wf, nil
}

// --- Instances ---

const instanceColumns = `id, workflow_id, entity_type, entity_id, status, current_step_id, completed_steps,
	approval_history, initiated_by, due_date, started_at, completed_at, updated_at, version`

func (s *LibSQLStore) CreateInstance(ctx context.Context, inst *schema.WorkflowInstance) error {
	if inst.Workflow == nil {
		return schema.NewError(schema.ErrCodeValidation, "instance has no workflow")
	}
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = schema.InstanceStatusDraft
	}
	completed, history, err := marshalProgress(inst)
	if err != nil {
		return err
	}
	inst.UpdatedAt = timeOrNow(inst.UpdatedAt)
	inst.Version = 1

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Workflow.ID, inst.EntityType, inst.EntityID, string(inst.Status), nullStr(inst.CurrentStepID),
		completed, history, nullStr(inst.InitiatedBy), nullTime(inst.DueDate), nullTime(inst.StartedAt),
		nullTime(inst.CompletedAt), inst.UpdatedAt, inst.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "instance %s already exists", inst.ID).WithCause(err)
		}
		return wrapStore("create instance", err)
	}
	return nil
}

func (s *LibSQLStore) GetInstance(ctx context.Context, entityType, entityID string) (*schema.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, entityType, entityID)
	inst, err := s.scanInstance(ctx, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStore("get instance", err)
	}
	return inst, nil
}

func (s *LibSQLStore) GetInstanceByID(ctx context.Context, id string) (*schema.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)
	inst, err := s.scanInstance(ctx, row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("instance", id)
	}
	if err != nil {
		return nil, wrapStore("get instance", err)
	}
	return inst, nil
}

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*schema.WorkflowInstance, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := "SELECT " + instanceColumns + " FROM workflow_instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	switch {
	case filter.Limit > 0:
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	case filter.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStore("list instances", err)
	}
	defer rows.Close()

	var out []*schema.WorkflowInstance
	for rows.Next() {
		inst, err := s.scanInstance(ctx, rows)
		if err != nil {
			return nil, wrapStore("list instances", err)
		}
		out = append(out, inst)
	}
	return out, wrapStore("list instances", rows.Err())
}

// Save writes the mutable state of inst guarded by its version.
func (s *LibSQLStore) Save(ctx context.Context, inst *schema.WorkflowInstance) error {
	completed, history, err := marshalProgress(inst)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_instances SET status = ?, current_step_id = ?, completed_steps = ?, approval_history = ?,
		 due_date = ?, started_at = ?, completed_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(inst.Status), nullStr(inst.CurrentStepID), completed, history,
		nullTime(inst.DueDate), nullTime(inst.StartedAt), nullTime(inst.CompletedAt), now,
		inst.ID, inst.Version,
	)
	if err != nil {
		return wrapStore("save instance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStore("save instance", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_instances WHERE id = ?`, inst.ID).Scan(&exists)
		if err != nil {
			return wrapStore("save instance", err)
		}
		if exists == 0 {
			return storeNotFound("instance", inst.ID)
		}
		return staleVersion(inst)
	}

	inst.Version++
	inst.UpdatedAt = now
	return nil
}

func (s *LibSQLStore) scanInstance(ctx context.Context, sc scanner) (*schema.WorkflowInstance, error) {
	inst := &schema.WorkflowInstance{}
	var (
		workflowID, status, completed, history string
		currentStep, initiatedBy               sql.NullString
		dueDate, startedAt, completedAt        sql.NullTime
	)
	if err := sc.Scan(&inst.ID, &workflowID, &inst.EntityType, &inst.EntityID, &status, &currentStep,
		&completed, &history, &initiatedBy, &dueDate, &startedAt, &completedAt, &inst.UpdatedAt, &inst.Version); err != nil {
		return nil, err
	}
	inst.Status = schema.InstanceStatus(status)
	inst.CurrentStepID = currentStep.String
	inst.InitiatedBy = initiatedBy.String
	inst.DueDate = timePtr(dueDate)
	inst.StartedAt = timePtr(startedAt)
	inst.CompletedAt = timePtr(completedAt)
	if err := json.Unmarshal([]byte(completed), &inst.CompletedSteps); err != nil {
		return nil, fmt.Errorf("unmarshal completed steps: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &inst.ApprovalHistory); err != nil {
		return nil, fmt.Errorf("unmarshal approval history: %w", err)
	}

	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	inst.Workflow = wf
	return inst, nil
}

// --- Risk appetites ---

func (s *LibSQLStore) CreateRiskAppetite(ctx context.Context, a *schema.RiskAppetite) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.ValidFrom = timeOrNow(a.ValidFrom)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_appetites (id, tenant, category, max_acceptable_risk, active, valid_from, valid_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Tenant, a.Category, a.MaxAcceptableRisk, boolInt(a.Active), a.ValidFrom, nullTime(a.ValidTo),
	)
	return wrapStore("create risk appetite", err)
}

// ListRiskAppetites returns the tenant's appetites, newest validity window first.
func (s *LibSQLStore) ListRiskAppetites(ctx context.Context, tenant string) ([]*schema.RiskAppetite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, category, max_acceptable_risk, active, valid_from, valid_to
		 FROM risk_appetites WHERE tenant = ? ORDER BY valid_from DESC, id`, tenant)
	if err != nil {
		return nil, wrapStore("list risk appetites", err)
	}
	defer rows.Close()

	var out []*schema.RiskAppetite
	for rows.Next() {
		a := &schema.RiskAppetite{}
		var (
			active  int
			validTo sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Tenant, &a.Category, &a.MaxAcceptableRisk, &active, &a.ValidFrom, &validTo); err != nil {
			return nil, wrapStore("list risk appetites", err)
		}
		a.Active = active != 0
		a.ValidTo = timePtr(validTo)
		out = append(out, a)
	}
	return out, wrapStore("list risk appetites", rows.Err())
}

// --- Sweeps ---

func (s *LibSQLStore) RecordSweep(ctx context.Context, run *SweepRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sweep_runs (id, started_at, finished_at, dry_run, total, progressed, skipped, overdue, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, timeOrNow(run.StartedAt), timeOrNow(run.FinishedAt), boolInt(run.DryRun),
		run.Total, run.Progressed, run.Skipped, run.Overdue, run.Errors,
	)
	return wrapStore("record sweep", err)
}

func (s *LibSQLStore) ListSweeps(ctx context.Context, limit int) ([]*SweepRun, error) {
	query := `SELECT id, started_at, finished_at, dry_run, total, progressed, skipped, overdue, errors
		FROM sweep_runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapStore("list sweeps", err)
	}
	defer rows.Close()

	var out []*SweepRun
	for rows.Next() {
		r := &SweepRun{}
		var dryRun int
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &dryRun,
			&r.Total, &r.Progressed, &r.Skipped, &r.Overdue, &r.Errors); err != nil {
			return nil, wrapStore("list sweeps", err)
		}
		r.DryRun = dryRun != 0
		out = append(out, r)
	}
	return out, wrapStore("list sweeps", rows.Err())
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", resource, id)
}

func staleVersion(inst *schema.WorkflowInstance) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeConflict, "instance %s was modified concurrently", inst.ID).
		WithDetails(map[string]any{"instance_id": inst.ID, "version": inst.Version})
}

// wrapStore tags driver errors with STORE_ERROR. Structured errors pass through.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *schema.Error
	if errors.As(err, &se) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func marshalProgress(inst *schema.WorkflowInstance) (string, string, error) {
	completed, err := marshalSliceOrDefault(inst.CompletedSteps)
	if err != nil {
		return "", "", fmt.Errorf("marshal completed steps: %w", err)
	}
	history, err := marshalSliceOrDefault(inst.ApprovalHistory)
	if err != nil {
		return "", "", fmt.Errorf("marshal approval history: %w", err)
	}
	return completed, history, nil
}

func marshalSliceOrDefault[T any](items []T) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	return string(b), err
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
