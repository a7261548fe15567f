package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoprogress/internal/store"
	"github.com/rendis/autoprogress/pkg/schema"
)

func newTestStarter(t *testing.T) (*Starter, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.CreateWorkflow(context.Background(), &schema.Workflow{
		ID:         "wf-review",
		EntityType: "TestEntity",
		Steps: []schema.WorkflowStep{
			autoStep("S1", 2, fieldsReady("TestEntity")),
			autoStep("S2", 5, nil),
		},
	}))
	s := NewStarter(mem, nil, nil)
	s.now = func() time.Time { return fixedNow }
	return s, mem
}

func TestStarter_Start(t *testing.T) {
	s, mem := newTestStarter(t)
	ctx := context.Background()

	inst, err := s.Start(ctx, "wf-review", "TestEntity", "42", alice)
	require.NoError(t, err)
	assert.Equal(t, schema.InstanceStatusInProgress, inst.Status)
	assert.Equal(t, "S1", inst.CurrentStepID)
	assert.Equal(t, "u-alice", inst.InitiatedBy)
	require.NotNil(t, inst.StartedAt)
	assert.Equal(t, fixedNow, *inst.StartedAt)
	require.NotNil(t, inst.DueDate)
	assert.Equal(t, fixedNow.AddDate(0, 0, 2), *inst.DueDate)

	got, err := mem.GetInstance(ctx, "TestEntity", "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, schema.InstanceStatusInProgress, got.Status)
	require.Len(t, got.ApprovalHistory, 1)
	assert.Equal(t, schema.ActionStarted, got.ApprovalHistory[0].Action)
}

func TestStarter_StartThenProgress(t *testing.T) {
	s, mem := newTestStarter(t)
	ctx := context.Background()
	_, err := s.Start(ctx, "wf-review", "TestEntity", "42", alice)
	require.NoError(t, err)

	p := NewProgressor(mem, nil, WithClock(func() time.Time { return fixedNow }))
	ok, err := p.CheckAndProgress(ctx, &TestEntity{ID: 42, Name: "a", Description: "b"}, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mem.GetInstance(ctx, "TestEntity", "42")
	require.NoError(t, err)
	assert.Equal(t, "S2", got.CurrentStepID)
	assert.Len(t, got.ApprovalHistory, 2)
}

func TestStarter_OneOpenInstancePerRecord(t *testing.T) {
	s, _ := newTestStarter(t)
	ctx := context.Background()

	first, err := s.Start(ctx, "wf-review", "TestEntity", "42", alice)
	require.NoError(t, err)

	_, err = s.Start(ctx, "wf-review", "TestEntity", "42", alice)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	_, err = s.Cancel(ctx, first.ID, alice, "restart")
	require.NoError(t, err)

	second, err := s.Start(ctx, "wf-review", "TestEntity", "42", alice)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStarter_StartErrors(t *testing.T) {
	s, mem := newTestStarter(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "missing", "TestEntity", "42", alice)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	_, err = s.Start(ctx, "wf-review", "OtherEntity", "42", alice)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = s.Start(ctx, "wf-review", "TestEntity", "", alice)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	require.NoError(t, mem.CreateWorkflow(ctx, &schema.Workflow{ID: "wf-empty"}))
	_, err = s.Start(ctx, "wf-empty", "TestEntity", "42", alice)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestStarter_Cancel(t *testing.T) {
	s, mem := newTestStarter(t)
	ctx := context.Background()
	inst, err := s.Start(ctx, "wf-review", "TestEntity", "42", alice)
	require.NoError(t, err)

	cancelled, err := s.Cancel(ctx, inst.ID, alice, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, schema.InstanceStatusCancelled, cancelled.Status)

	got, err := mem.GetInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.InstanceStatusCancelled, got.Status)
	last := got.ApprovalHistory[len(got.ApprovalHistory)-1]
	assert.Equal(t, schema.ActionCancelled, last.Action)
	assert.Equal(t, "S1", last.StepID)
	assert.Equal(t, "no longer needed", last.Comments)

	p := NewProgressor(mem, nil)
	ok, err := p.CheckAndProgress(ctx, &TestEntity{ID: 42, Name: "a", Description: "b"}, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Cancel(ctx, inst.ID, alice, "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
}
