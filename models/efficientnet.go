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
	"github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/train"
)

// efficientNet is the efficient-backbone family: inverted-bottleneck
// convolution stages under compound width/depth scaling, a 1x1 head
// convolution and a global pool. Adapting replaces the final linear
// layer with a fresh one sized to numClasses.
type efficientNet struct {
	name         string
	width, depth float64
}

// Stage configuration of the b0 baseline; b1..b3 scale from it.
var efficientNetStages = []struct {
	expand, channels, repeats, strides int
}{
	{1, 16, 1, 1},
	{6, 24, 2, 2},
	{6, 40, 2, 2},
	{6, 80, 3, 2},
	{6, 112, 3, 1},
	{6, 192, 4, 2},
	{6, 320, 1, 1},
}

func (m *efficientNet) Name() string { return m.name }

func (m *efficientNet) Adapt(numClasses int) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		ctx = ctx.In("model")
		batchSize := inputs[0].Shape().Dimensions[0]
		x := normalizeImages(inputs[0])

		x = convBlock(ctx.In("stem"), x, scaleChannels(32, m.width), 3, 2)
		for stageIdx, stage := range efficientNetStages {
			ctx := ctx.Inf("%03d_stage", stageIdx)
			channels := scaleChannels(stage.channels, m.width)
			for repeat := range scaleDepth(stage.repeats, m.depth) {
				strides := 1
				if repeat == 0 {
					strides = stage.strides
				}
				x = m.invertedBottleneck(ctx.Inf("block_%02d", repeat), x, stage.expand, channels, strides)
			}
		}
		x = convBlock(ctx.In("head"), x, scaleChannels(1280, m.width), 1, 1)
		x = globalMeanPool(x)

		// The replaced final linear layer, freshly initialized for the
		// target class count.
		logits := fnn.New(ctx.In("readout"), x, numClasses).NumHiddenLayers(0, 0).Done()
		logits.AssertDims(batchSize, numClasses)
		return []*Node{logits}
	}
}

// invertedBottleneck expands channels by the given ratio, convolves at
// the expanded width and projects back down, with a shortcut when the
// shape is preserved.
func (m *efficientNet) invertedBottleneck(ctx *context.Context, x *Node, expand, channels, strides int) *Node {
	residual := x
	inputChannels := x.Shape().Dimensions[3]
	if expand > 1 {
		x = convBlock(ctx.In("expand"), x, inputChannels*expand, 1, 1)
	}
	x = convBlock(ctx.In("depth"), x, inputChannels*expand, 3, strides)
	x = convBlock(ctx.In("project"), x, channels, 1, 1)
	if strides == 1 && inputChannels == channels {
		x = Add(x, residual)
	}
	return x
}
