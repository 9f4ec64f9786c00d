package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"how", "many", "pending", "tasks"}, Tokens("How many pending tasks?"))
	assert.Equal(t, []string{"tasks", "for", "q3", "2024"}, Tokens("  tasks, for Q3-2024!! "))
	assert.Empty(t, Tokens("?!"))
}

func TestHashEmbedder_Embed(t *testing.T) {
	e := NewHashEmbedder(0)
	require.Equal(t, DefaultDimension, e.Dimension())

	t.Run("case and punctuation do not matter", func(t *testing.T) {
		a := e.Embed("how many pending tasks")
		b := e.Embed("How many pending tasks?")
		assert.Equal(t, 0.0, L2Distance(a, b))
	})

	t.Run("unit length", func(t *testing.T) {
		v := e.Embed("show completed delegation tasks for ADMIN")
		var sq float64
		for _, x := range v {
			sq += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sq), 1e-5)
	})

	t.Run("related questions are closer than unrelated ones", func(t *testing.T) {
		base := e.Embed("how many pending tasks in admin department")
		near := e.Embed("how many pending tasks in the admin department")
		far := e.Embed("list quotations prepared by sheetal")
		assert.Less(t, L2Distance(base, near), L2Distance(base, far))
	})

	t.Run("no words yields zero vector", func(t *testing.T) {
		v := e.Embed("???")
		for _, x := range v {
			assert.Zero(t, x)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, e.Embed("pending tasks"), NewHashEmbedder(DefaultDimension).Embed("pending tasks"))
	})
}

func TestL2Distance(t *testing.T) {
	assert.Equal(t, 0.0, L2Distance([]float32{1, 2}, []float32{1, 2}))
	assert.InDelta(t, 5.0, L2Distance([]float32{0, 0}, []float32{3, 4}), 1e-9)
	// missing trailing components count as zero
	assert.InDelta(t, 5.0, L2Distance([]float32{3}, []float32{0, 4}), 1e-9)
}
