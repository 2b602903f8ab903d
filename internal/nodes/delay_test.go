package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

func TestDelayExecutor(t *testing.T) {
	e := NewDelayExecutor()
	node := &schema.Node{ID: "wait", Kind: schema.NodeKindDelay}

	t.Run("first attempt suspends", func(t *testing.T) {
		start := time.Now()
		res, err := e.Execute(context.Background(), &Request{
			Node:   node,
			Config: map[string]any{"duration": "5s"},
		})
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, res.SuspendFor)
		assert.Less(t, time.Since(start), 100*time.Millisecond, "delay executor must not block")
	})

	t.Run("resumed dispatch completes", func(t *testing.T) {
		res, err := e.Execute(context.Background(), &Request{
			Node:    node,
			Config:  map[string]any{"duration": "5s"},
			Resumed: true,
		})
		require.NoError(t, err)
		assert.Zero(t, res.SuspendFor)
		assert.Equal(t, map[string]any{"waited": "5s"}, res.Output)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := e.Execute(context.Background(), &Request{
			Node:   node,
			Config: map[string]any{"duration": "soon"},
		})
		require.Error(t, err)
	})

	t.Run("missing duration", func(t *testing.T) {
		_, err := e.Execute(context.Background(), &Request{Node: node, Config: map[string]any{}})
		require.Error(t, err)
	})
}

func TestTriggerExecutor(t *testing.T) {
	e := NewTriggerExecutor()

	res, err := e.Execute(context.Background(), &Request{
		Node:    &schema.Node{ID: "start", Kind: schema.NodeKindTrigger},
		Trigger: map[string]any{"source": "webhook"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"source": "webhook"}, res.Output)

	res, err = e.Execute(context.Background(), &Request{
		Node: &schema.Node{ID: "start", Kind: schema.NodeKindTrigger},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, res.Output)
}
