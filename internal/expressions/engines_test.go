package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeData() map[string]any {
	return map[string]any{
		"trigger": map[string]any{"amount": float64(150), "currency": "usd"},
		"nodes": map[string]any{
			"fetch": map[string]any{
				"items": []any{
					map[string]any{"price": float64(10)},
					map[string]any{"price": float64(25)},
				},
			},
		},
	}
}

func TestExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	tests := []struct {
		name       string
		expression string
		expected   any
	}{
		{"arithmetic", "trigger.amount * 2", float64(300)},
		{"string op", `upper(trigger.currency)`, "USD"},
		{"map over array", "map(nodes.fetch.items, .price)", []any{float64(10), float64(25)}},
		{"comparison", "trigger.amount > 100", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expression, scopeData())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}

	t.Run("compile error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), "trigger.amount +", scopeData())
		require.Error(t, err)
	})

	t.Run("empty expression", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), "", scopeData())
		require.Error(t, err)
	})
}

func TestGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	t.Run("single output", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), ".trigger.amount", scopeData())
		require.NoError(t, err)
		assert.Equal(t, float64(150), out)
	})

	t.Run("reshape", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(),
			"{total: [.nodes.fetch.items[].price] | add}", scopeData())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"total": float64(35)}, out)
	})

	t.Run("multiple outputs collected", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), ".nodes.fetch.items[].price", scopeData())
		require.NoError(t, err)
		assert.Equal(t, []any{float64(10), float64(25)}, out)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), ".[unclosed", scopeData())
		require.Error(t, err)
	})

	t.Run("env access blocked", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `env.HOME`, scopeData())
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}

func TestCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())

	tests := []struct {
		name       string
		expression string
		expected   any
	}{
		{"threshold", "trigger.amount > 100.0", true},
		{"string equality", `trigger.currency == "usd"`, true},
		{"node output access", "size(nodes.fetch.items) == 2", true},
		{"missing keys default", `!("ghost" in nodes)`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expression, scopeData())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}

	t.Run("compile error", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), "trigger.amount >", scopeData())
		require.Error(t, err)
	})

	t.Run("nil data", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "size(trigger) == 0", nil)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}
