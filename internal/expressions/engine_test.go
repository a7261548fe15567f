package expressions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoprogress/pkg/schema"
)

func TestProgramCache(t *testing.T) {
	var compiles atomic.Int32
	c := newProgramCache(func(expr string) (int, error) {
		compiles.Add(1)
		if expr == "bad" {
			return 0, errors.New("syntax")
		}
		return len(expr), nil
	})

	for range 3 {
		n, err := c.get("abcd")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}
	assert.Equal(t, int32(1), compiles.Load())

	_, err := c.get("bad")
	assert.Error(t, err)
	_, err = c.get("bad")
	assert.Error(t, err)
	assert.Equal(t, int32(3), compiles.Load(), "failures are retried")
	assert.Equal(t, 1, c.size())
}

func TestProgramCache_Concurrent(t *testing.T) {
	var compiles atomic.Int32
	c := newProgramCache(func(expr string) (string, error) {
		compiles.Add(1)
		return expr, nil
	})

	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.get("status = approved")
			assert.NoError(t, err)
			assert.Equal(t, "status = approved", got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), compiles.Load())
}

func dialectEngines(t *testing.T) []Engine {
	t.Helper()
	cel, err := NewCELEngine()
	require.NoError(t, err)
	return []Engine{NewConditionEngine(), NewExprEngine(), cel, NewGoJQEngine()}
}

func TestEngines_Names(t *testing.T) {
	var names []string
	for _, e := range dialectEngines(t) {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{DialectCondition, DialectExpr, DialectCEL, DialectJQ}, names)
}

func TestEngines_EmptyExpressionIsValidationError(t *testing.T) {
	for _, e := range dialectEngines(t) {
		t.Run(e.Name(), func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), "", nil)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation), err.Error())
			assert.Contains(t, err.Error(), "empty")
		})
	}
}

func TestEngines_CompileErrorDetails(t *testing.T) {
	bad := map[string]string{
		DialectExpr: `severity ==`,
		DialectCEL:  `invalid >>>`,
		DialectJQ:   `.[`,
	}
	for _, e := range dialectEngines(t) {
		src, ok := bad[e.Name()]
		if !ok {
			continue
		}
		t.Run(e.Name(), func(t *testing.T) {
			err := e.(Compiler).Compile(src)
			var se *schema.Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, schema.ErrCodeValidation, se.Code)
			assert.Equal(t, e.Name(), se.Details["dialect"])
			assert.Equal(t, src, se.Details["expression"])
			assert.NotNil(t, se.Cause)
		})
	}
}

func TestEngines_ConcurrentEvaluate(t *testing.T) {
	cel, err := NewCELEngine()
	require.NoError(t, err)

	cases := []struct {
		engine Engine
		expr   string
		data   func(i int) map[string]any
	}{
		{NewExprEngine(), `n >= 0`, func(i int) map[string]any { return map[string]any{"n": i} }},
		{cel, `record.n >= 0`, func(i int) map[string]any {
			return map[string]any{"record": map[string]any{"n": float64(i)}}
		}},
		{NewGoJQEngine(), `.n >= 0`, func(i int) map[string]any { return map[string]any{"n": i} }},
	}
	for _, tc := range cases {
		t.Run(tc.engine.Name(), func(t *testing.T) {
			var wg sync.WaitGroup
			for i := range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					out, err := tc.engine.Evaluate(context.Background(), tc.expr, tc.data(i))
					assert.NoError(t, err)
					assert.Equal(t, true, out)
				}()
			}
			wg.Wait()
		})
	}
}
