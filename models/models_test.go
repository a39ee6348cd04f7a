package models

import (
	"testing"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestFromName(t *testing.T) {
	for _, name := range Names() {
		builder, err := FromName(name)
		require.NoError(t, err)
		assert.Equal(t, name, builder.Name())
	}

	_, err := FromName("resnet18")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
	assert.Contains(t, err.Error(), "yolov5s")
}

func TestScaling(t *testing.T) {
	assert.Equal(t, 32, scaleChannels(64, 0.5))
	assert.Equal(t, 64, scaleChannels(64, 1.0))
	assert.Equal(t, 8, scaleChannels(16, 0.1))
	assert.Equal(t, 1, scaleDepth(3, 0.33))
	assert.Equal(t, 3, scaleDepth(3, 1.0))
	assert.Equal(t, 4, scaleDepth(3, 1.33))
	assert.Equal(t, 1, scaleDepth(1, 0.1))
}

// TestAdaptOutputDimensions checks the defining property of Adapt: for
// any class count, the logits' last dimension matches it. Pretrained
// models are excluded, their weights may not be available in test
// environments.
func TestAdaptOutputDimensions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping model graph building for -short tests")
	}
	backend := backends.New()
	const batchSize, imgSize = 2, 64
	for _, name := range []string{"cnn", "yolov5s", "yolov5m", "efficientnet-b0", "efficientnet-b1"} {
		for _, numClasses := range []int{2, 10} {
			builder, err := FromName(name)
			require.NoError(t, err)
			modelFn := builder.Adapt(numClasses)
			ctx := context.New()
			exec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
				return modelFn(ctx, nil, []*Node{images})[0]
			})
			images := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, imgSize, imgSize, 3))
			logits := exec.Call(images)[0]
			assert.Equalf(t, []int{batchSize, numClasses}, logits.Shape().Dimensions,
				"model %q adapted to %d classes", name, numClasses)
		}
	}
}
