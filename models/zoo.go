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
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/models/inceptionv3"
	timage "github.com/gomlx/gomlx/types/tensors/images"
)

// inception is the vision-zoo family member with pretrained weights:
// the InceptionV3 backbone with its classification top removed and a
// freshly initialized fully-connected readout to numClasses.
type inception struct{}

func (m *inception) Name() string { return "inceptionv3" }

// Prep downloads the pretrained weights, unless disabled.
func (m *inception) Prep(dataDir string) error {
	return inceptionv3.DownloadAndUnpackWeights(dataDir)
}

func (m *inception) Adapt(numClasses int) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		ctx = ctx.In("model")
		// InceptionV3 has its own input scaling, applied instead of the
		// usual channel normalization.
		images := inceptionv3.PreprocessImage(inputs[0], 1.0, timage.ChannelsLast)
		var preTrainedDir string
		if context.GetParamOr(ctx, ParamPretrained, true) {
			preTrainedDir = context.GetParamOr(ctx, "data_dir", ".")
		}
		embeddings := inceptionv3.BuildGraph(ctx, images).
			PreTrained(preTrainedDir).
			SetPooling(inceptionv3.MaxPooling).
			ClassificationTop(false).
			Trainable(context.GetParamOr(ctx, ParamTrainableBackbone, true)).
			Done()
		logits := fnn.New(ctx.In("readout"), embeddings, numClasses).NumHiddenLayers(0, 0).Done()
		return []*Node{logits}
	}
}

// cnn is a small convolutional baseline trained from scratch, handy
// for quick experiments and for the package tests.
type cnn struct{}

func (m *cnn) Name() string { return "cnn" }

func (m *cnn) Adapt(numClasses int) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		ctx = ctx.In("model")
		batchSize := inputs[0].Shape().Dimensions[0]
		x := normalizeImages(inputs[0])
		numChannels := context.GetParamOr(ctx, "cnn_channels", 32)
		numLayers := context.GetParamOr(ctx, "cnn_num_layers", 4)
		for convIdx := range numLayers {
			ctx := ctx.Inf("%03d_conv", convIdx)
			x = convBlock(ctx, x, numChannels, 3, 1)
			if x.Shape().Dimensions[1] > 4 {
				x = MaxPool(x).Window(2).Done()
			}
		}
		x = Reshape(x, batchSize, -1)
		x = fnn.New(ctx.In("embeddings"), x, context.GetParamOr(ctx, "cnn_embeddings_size", 128)).Done()
		x = activations.ApplyFromContext(ctx, x)
		logits := fnn.New(ctx.In("readout"), x, numClasses).NumHiddenLayers(0, 0).Done()
		logits.AssertDims(batchSize, numClasses)
		return []*Node{logits}
	}
}
