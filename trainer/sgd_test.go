package trainer

import (
	"testing"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMomentumSGD checks the update rule numerically: for loss = w the
// gradient is 1 every step, so with lr=0.1 and momentum 0.9 the
// velocities are 1, 1.9, 2.71 and the Nesterov steps 0.19, 0.271,
// 0.3439. In particular the learning rate is applied as set, not
// decayed by the global step.
func TestMomentumSGD(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping graph execution for -short tests")
	}
	backend := backends.New()
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, 0.1)
	optimizer := newMomentumSGD()

	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		wVar := ctx.VariableWithValue("w", float32(1))
		loss := wVar.ValueGraph(g)
		optimizer.UpdateGraph(ctx, g, loss)
		return wVar.ValueGraph(g)
	})

	for _, want := range []float32{0.81, 0.539, 0.1951} {
		w := tensors.ToScalar[float32](exec.Call()[0])
		assert.InDelta(t, want, w, 1e-5)
	}

	// The velocity lives under the optimizer's own scope, non-trainable.
	var velocities int
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Name() == "w_velocity" {
			velocities++
			assert.False(t, v.Trainable)
		}
	})
	require.Equal(t, 1, velocities)

	// Clear removes the velocities, leaving the weights untouched.
	optimizer.Clear(ctx)
	velocities = 0
	foundWeight := false
	ctx.EnumerateVariables(func(v *context.Variable) {
		switch v.Name() {
		case "w_velocity":
			velocities++
		case "w":
			foundWeight = true
		}
	})
	assert.Zero(t, velocities)
	assert.True(t, foundWeight)
}
