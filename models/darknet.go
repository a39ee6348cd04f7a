/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package models

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train"
)

// darknet is the detector-backbone family: the convolutional backbone
// of a single-stage detector, truncated before its detection stages,
// with a classification head attached in their place. The head is a
// 1x1 convolution to numClasses followed by a global mean pool, so the
// logits take the truncated stage's channel count as input.
//
// Variants differ only by their depth (block repeats) and width
// (channels) multiples.
type darknet struct {
	name         string
	depth, width float64
}

// Backbone stage configuration before depth/width scaling.
var darknetStages = []struct {
	channels, repeats int
}{
	{128, 3},
	{256, 6},
	{512, 9},
	{1024, 3},
}

func (m *darknet) Name() string { return m.name }

func (m *darknet) Adapt(numClasses int) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		ctx = ctx.In("model")
		batchSize := inputs[0].Shape().Dimensions[0]
		x := normalizeImages(inputs[0])

		// Stem: large-kernel strided conv replacing the detector's
		// space-to-depth focus layer.
		x = convBlock(ctx.In("stem"), x, scaleChannels(64, m.width), 6, 2)
		for stageIdx, stage := range darknetStages {
			ctx := ctx.Inf("%03d_stage", stageIdx)
			channels := scaleChannels(stage.channels, m.width)
			x = convBlock(ctx.In("down"), x, channels, 3, 2)
			for repeat := range scaleDepth(stage.repeats, m.depth) {
				x = m.bottleneck(ctx.Inf("block_%02d", repeat), x, channels)
			}
		}

		// Classification head in place of the detection stages.
		headCtx := ctx.In("classify")
		logits := layers.Convolution(headCtx, x).Filters(numClasses).KernelSize(1).Done()
		logits = globalMeanPool(logits)
		logits.AssertDims(batchSize, numClasses)
		return []*Node{logits}
	}
}

// bottleneck is the residual unit of the backbone: a 1x1 squeeze to
// half the channels, a 3x3 expand back, plus the shortcut.
func (m *darknet) bottleneck(ctx *context.Context, x *Node, channels int) *Node {
	residual := x
	x = convBlock(ctx.In("squeeze"), x, channels/2, 1, 1)
	x = convBlock(ctx.In("expand"), x, channels, 3, 1)
	return Add(x, residual)
}
