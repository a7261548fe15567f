package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoprogress/pkg/schema"
)

func newTestStore(t *testing.T, opts ...Option) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:"+dbPath, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("libsql", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func testWorkflow(id string) *schema.Workflow {
	return &schema.Workflow{
		ID:         id,
		Name:       "Review " + id,
		EntityType: "TestEntity",
		Steps: []schema.WorkflowStep{
			{
				ID: "s1", Name: "Draft", StepType: "approval",
				Metadata: map[string]any{
					schema.MetadataAutoProgress: map[string]any{
						"type":   "field_completion",
						"entity": "TestEntity",
						"fields": []any{"name", "description"},
					},
				},
			},
			{ID: "s2", Name: "Approve", StepType: "approval", DaysToComplete: 5},
		},
	}
}

func seedInstance(t *testing.T, s Store, wf *schema.Workflow, entityID string) *schema.WorkflowInstance {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetWorkflow(ctx, wf.ID); err != nil {
		require.NoError(t, s.CreateWorkflow(ctx, wf))
	}
	started := time.Now().UTC().Truncate(time.Second)
	inst := &schema.WorkflowInstance{
		Workflow:      wf,
		EntityType:    "TestEntity",
		EntityID:      entityID,
		Status:        schema.InstanceStatusInProgress,
		CurrentStepID: "s1",
		InitiatedBy:   "u1",
		StartedAt:     &started,
	}
	require.NoError(t, s.CreateInstance(ctx, inst))
	return inst
}

func TestWorkflowRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		wf := testWorkflow("wf-1")
		require.NoError(t, s.CreateWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "Review wf-1", got.Name)
		assert.Equal(t, "TestEntity", got.EntityType)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, 5, got.Steps[1].DaysToComplete)
		desc := got.Steps[0].AutoProgressConditions()
		require.NotNil(t, desc)
		assert.Equal(t, "field_completion", desc["type"])

		list, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestCreateWorkflow_Duplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1")))
		err := s.CreateWorkflow(ctx, testWorkflow("wf-1"))
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	})
}

func TestGetWorkflow_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetWorkflow(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	})
}

type rejectAll struct{}

func (rejectAll) ValidateWorkflow(*schema.Workflow) error {
	return schema.NewError(schema.ErrCodeValidation, "rejected")
}

func TestCreateWorkflow_Validator(t *testing.T) {
	for name, s := range map[string]Store{
		"libsql": newTestStore(t, WithValidator(rejectAll{})),
		"memory": NewMemoryStore(WithValidator(rejectAll{})),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.CreateWorkflow(ctx, testWorkflow("wf-1"))
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

			_, err = s.GetWorkflow(ctx, "wf-1")
			assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
		})
	}
}

func TestGetInstance_None(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		inst, err := s.GetInstance(context.Background(), "TestEntity", "42")
		require.NoError(t, err)
		assert.Nil(t, inst)
	})
}

func TestInstanceRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := seedInstance(t, s, testWorkflow("wf-1"), "42")
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, int64(1), created.Version)

		got, err := s.GetInstance(ctx, "TestEntity", "42")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, schema.InstanceStatusInProgress, got.Status)
		assert.Equal(t, "s1", got.CurrentStepID)
		assert.Equal(t, "u1", got.InitiatedBy)
		require.NotNil(t, got.Workflow)
		assert.Equal(t, "wf-1", got.Workflow.ID)
		require.NotNil(t, got.StartedAt)
		assert.True(t, created.StartedAt.Equal(*got.StartedAt))
		assert.Nil(t, got.DueDate)
		assert.Empty(t, got.CompletedSteps)

		byID, err := s.GetInstanceByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, got.EntityID, byID.EntityID)
	})
}

func TestGetInstance_LatestWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		wf := testWorkflow("wf-1")
		seedInstance(t, s, wf, "42")
		second := seedInstance(t, s, wf, "42")

		got, err := s.GetInstance(context.Background(), "TestEntity", "42")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})
}

func TestSave_PersistsProgress(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, testWorkflow("wf-1"), "42")

		loaded, err := s.GetInstance(ctx, "TestEntity", "42")
		require.NoError(t, err)
		due := time.Now().UTC().Add(5 * 24 * time.Hour).Truncate(time.Second)
		loaded.CompletedSteps = append(loaded.CompletedSteps, "s1")
		loaded.ApprovalHistory = append(loaded.ApprovalHistory, schema.HistoryEntry{
			ID: "h1", StepID: "s1", StepName: "Draft", Action: schema.ActionAutoApproved,
			ActorID: "u1", Timestamp: time.Now().UTC(), AutoProgression: true, TriggerEntity: "TestEntity",
		})
		loaded.CurrentStepID = "s2"
		loaded.DueDate = &due
		require.NoError(t, s.Save(ctx, loaded))
		assert.Equal(t, inst.Version+1, loaded.Version)

		got, err := s.GetInstanceByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "s2", got.CurrentStepID)
		assert.Equal(t, []string{"s1"}, got.CompletedSteps)
		require.Len(t, got.ApprovalHistory, 1)
		assert.Equal(t, schema.ActionAutoApproved, got.ApprovalHistory[0].Action)
		assert.True(t, got.ApprovalHistory[0].AutoProgression)
		require.NotNil(t, got.DueDate)
		assert.True(t, due.Equal(*got.DueDate))
		assert.Equal(t, loaded.Version, got.Version)
	})
}

func TestSave_Conflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, testWorkflow("wf-1"), "42")

		a, err := s.GetInstanceByID(ctx, inst.ID)
		require.NoError(t, err)
		b, err := s.GetInstanceByID(ctx, inst.ID)
		require.NoError(t, err)

		a.CurrentStepID = "s2"
		require.NoError(t, s.Save(ctx, a))

		b.Status = schema.InstanceStatusCancelled
		err = s.Save(ctx, b)
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

		got, err := s.GetInstanceByID(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.InstanceStatusInProgress, got.Status)
		assert.Equal(t, "s2", got.CurrentStepID)
	})
}

func TestSave_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.CreateWorkflow(context.Background(), testWorkflow("wf-1")))
		err := s.Save(context.Background(), &schema.WorkflowInstance{ID: "ghost", Version: 1, Workflow: testWorkflow("wf-1")})
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	})
}

func TestListInstances_Filter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		wf := testWorkflow("wf-1")
		seedInstance(t, s, wf, "1")
		second := seedInstance(t, s, wf, "2")
		seedInstance(t, s, wf, "3")

		second.Status = schema.InstanceStatusCompleted
		second.CurrentStepID = ""
		require.NoError(t, s.Save(ctx, second))

		all, err := s.ListInstances(ctx, InstanceFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		active := schema.InstanceStatusInProgress
		inProgress, err := s.ListInstances(ctx, InstanceFilter{Status: &active})
		require.NoError(t, err)
		require.Len(t, inProgress, 2)
		assert.Equal(t, "1", inProgress[0].EntityID)
		assert.Equal(t, "3", inProgress[1].EntityID)

		page, err := s.ListInstances(ctx, InstanceFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "2", page[0].EntityID)

		tail, err := s.ListInstances(ctx, InstanceFilter{Offset: 1})
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "2", tail[0].EntityID)
		assert.Equal(t, "3", tail[1].EntityID)

		none, err := s.ListInstances(ctx, InstanceFilter{WorkflowID: "other"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestRiskAppetites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		older := now.Add(-48 * time.Hour)
		expired := now.Add(-time.Hour)

		require.NoError(t, s.CreateRiskAppetite(ctx, &schema.RiskAppetite{
			Tenant: "acme", MaxAcceptableRisk: 10, Active: true, ValidFrom: older,
		}))
		require.NoError(t, s.CreateRiskAppetite(ctx, &schema.RiskAppetite{
			Tenant: "acme", Category: "fin", MaxAcceptableRisk: 4, Active: true, ValidFrom: now, ValidTo: &expired,
		}))
		require.NoError(t, s.CreateRiskAppetite(ctx, &schema.RiskAppetite{
			Tenant: "other", MaxAcceptableRisk: 1, Active: false, ValidFrom: now,
		}))

		got, err := s.ListRiskAppetites(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "fin", got[0].Category)
		require.NotNil(t, got[0].ValidTo)
		assert.True(t, expired.Equal(*got[0].ValidTo))
		assert.Equal(t, 10, got[1].MaxAcceptableRisk)
		assert.True(t, got[1].Active)

		other, err := s.ListRiskAppetites(ctx, "other")
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.False(t, other[0].Active)
	})
}

func TestSweeps(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)
		for i := range 3 {
			require.NoError(t, s.RecordSweep(ctx, &SweepRun{
				StartedAt:  base.Add(time.Duration(i) * time.Minute),
				FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
				DryRun:     i == 2,
				Total:      i + 1,
				Progressed: i,
			}))
		}

		runs, err := s.ListSweeps(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, 3, runs[0].Total)
		assert.True(t, runs[0].DryRun)
		assert.Equal(t, 2, runs[1].Total)
		assert.False(t, runs[1].DryRun)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestWrapStore(t *testing.T) {
	assert.NoError(t, wrapStore("op", nil))

	err := wrapStore("op", errors.New("disk full"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
	assert.Contains(t, err.Error(), "disk full")

	nf := storeNotFound("instance", "x")
	assert.Same(t, nf, wrapStore("op", nf))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment;\nCREATE TABLE b (y INT);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_indexes.sql": {Data: []byte("CREATE INDEX i ON t (x);")},
		"migrations/002_tables.sql":  {Data: []byte("CREATE TABLE t (x INT);")},
		"migrations/README.md":       {Data: []byte("ignored")},
	}
	got, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, "tables", got[0].Name)
	assert.Equal(t, 10, got[1].Version)
	assert.Equal(t, "indexes", got[1].Name)
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"no separator", "migrations/initial.sql"},
		{"non numeric", "migrations/abc_initial.sql"},
		{"zero version", "migrations/000_initial.sql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(fstest.MapFS{tt.file: {Data: []byte("SELECT 1;")}})
			assert.Error(t, err)
		})
	}

	_, err := loadMigrations(fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/1_b.sql":   {Data: []byte("SELECT 2;")},
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := loadMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "initial_schema", got[0].Name)
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	inst := seedInstance(t, s, testWorkflow("wf-1"), "42")

	inst.CurrentStepID = "mutated"
	got, err := s.GetInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.CurrentStepID)

	got.CompletedSteps = append(got.CompletedSteps, "x")
	again, err := s.GetInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, again.CompletedSteps)
}
