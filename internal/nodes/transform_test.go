package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/expressions"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

func newTransform(t *testing.T) *TransformExecutor {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewTransformExecutor(expressions.NewExprEngine(), expressions.NewGoJQEngine(), cel)
}

func transformRequest(config map[string]any) *Request {
	return &Request{
		Node:    &schema.Node{ID: "reshape", Kind: schema.NodeKindTransform},
		Config:  config,
		Trigger: map[string]any{"amount": float64(150)},
		Outputs: map[string]any{
			"fetch": map[string]any{"prices": []any{float64(10), float64(25)}},
		},
	}
}

func TestTransformExecutor(t *testing.T) {
	e := newTransform(t)

	t.Run("default engine is expr", func(t *testing.T) {
		res, err := e.Execute(context.Background(), transformRequest(map[string]any{
			"expression": "trigger.amount * 2",
		}))
		require.NoError(t, err)
		assert.Equal(t, float64(300), res.Output)
	})

	t.Run("jq engine", func(t *testing.T) {
		res, err := e.Execute(context.Background(), transformRequest(map[string]any{
			"engine":     "jq",
			"expression": ".nodes.fetch.prices | add",
		}))
		require.NoError(t, err)
		assert.Equal(t, float64(35), res.Output)
	})

	t.Run("cel engine", func(t *testing.T) {
		res, err := e.Execute(context.Background(), transformRequest(map[string]any{
			"engine":     "cel",
			"expression": "trigger.amount > 100.0",
		}))
		require.NoError(t, err)
		assert.Equal(t, true, res.Output)
	})

	t.Run("missing expression", func(t *testing.T) {
		_, err := e.Execute(context.Background(), transformRequest(map[string]any{}))
		require.Error(t, err)
	})

	t.Run("unknown engine", func(t *testing.T) {
		_, err := e.Execute(context.Background(), transformRequest(map[string]any{
			"engine":     "lua",
			"expression": "1",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown engine "lua"`)
	})
}
