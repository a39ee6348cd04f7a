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

// Package models holds the registry of classification model
// architectures. Three families are supported: darknet-style detector
// backbones ("yolov5s" .. "yolov5x") with a classification head in
// place of the detection stages, efficient-net style networks
// ("efficientnet-b0" .. "efficientnet-b3") with the final linear layer
// replaced, and a small vision zoo ("inceptionv3" pretrained, "cnn"
// baseline) with the fully-connected top replaced.
//
// Every family is adapted the same way: Builder.Adapt(numClasses)
// returns a train.ModelFn whose logits output has numClasses as its
// last dimension.
package models

import (
	"sort"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

const (
	// ParamPretrained selects whether pretrained weights are loaded for
	// models that have them (currently only "inceptionv3").
	ParamPretrained = "pretrained"

	// ParamTrainableBackbone selects whether a pretrained backbone is
	// fine-tuned or frozen.
	ParamTrainableBackbone = "trainable_backbone"
)

// Builder builds one model architecture. A Builder is selected once at
// configuration time with FromName and adapted once to the dataset's
// class count.
type Builder interface {
	// Name is the registry identifier.
	Name() string

	// Adapt returns the model graph function with a logits output of
	// dimension numClasses.
	Adapt(numClasses int) train.ModelFn
}

// Preparer is implemented by builders that need to fetch assets (e.g.
// pretrained weights) before the graph is first built.
type Preparer interface {
	Prep(dataDir string) error
}

var registry = map[string]func() Builder{
	"yolov5s":         func() Builder { return &darknet{name: "yolov5s", depth: 0.33, width: 0.50} },
	"yolov5m":         func() Builder { return &darknet{name: "yolov5m", depth: 0.67, width: 0.75} },
	"yolov5l":         func() Builder { return &darknet{name: "yolov5l", depth: 1.00, width: 1.00} },
	"yolov5x":         func() Builder { return &darknet{name: "yolov5x", depth: 1.33, width: 1.25} },
	"efficientnet-b0": func() Builder { return &efficientNet{name: "efficientnet-b0", width: 1.0, depth: 1.0} },
	"efficientnet-b1": func() Builder { return &efficientNet{name: "efficientnet-b1", width: 1.0, depth: 1.1} },
	"efficientnet-b2": func() Builder { return &efficientNet{name: "efficientnet-b2", width: 1.1, depth: 1.2} },
	"efficientnet-b3": func() Builder { return &efficientNet{name: "efficientnet-b3", width: 1.2, depth: 1.4} },
	"inceptionv3":     func() Builder { return &inception{} },
	"cnn":             func() Builder { return &cnn{} },
}

// FromName resolves a model identifier against the registry. Unknown
// identifiers fail with a lookup error listing the valid names.
func FromName(name string) (Builder, error) {
	newFn, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown model %q, valid values are %v", name, Names())
	}
	return newFn(), nil
}

// Names returns the sorted list of registered model identifiers.
func Names() []string {
	names := maps.Keys(registry)
	sort.Strings(names)
	return names
}

// normalizeImages maps image values from [0, 1] to the channel
// normalization used during training, mean 0.5 and std 0.25.
func normalizeImages(images *Node) *Node {
	return DivScalar(AddScalar(images, -0.5), 0.25)
}

// convBlock is the shared conv + batchnorm + swish unit of the darknet
// and efficient-net families.
func convBlock(ctx *context.Context, x *Node, channels, kernelSize, strides int) *Node {
	x = layers.Convolution(ctx.In("conv"), x).
		Filters(channels).KernelSize(kernelSize).PadSame().Strides(strides).
		UseBias(false).Done()
	x = batchnorm.New(ctx.In("norm"), x, -1).Done()
	return activations.Swish(x)
}

// globalMeanPool reduces [batch, height, width, channels] to
// [batch, channels].
func globalMeanPool(x *Node) *Node {
	x.AssertRank(4)
	return ReduceMean(x, 1, 2)
}

// scaleChannels applies a width multiple, rounded to a multiple of 8
// the way detector configs do.
func scaleChannels(channels int, width float64) int {
	scaled := int(float64(channels)*width + 4)
	scaled -= scaled % 8
	if scaled < 8 {
		scaled = 8
	}
	return scaled
}

// scaleDepth applies a depth multiple to a repeat count, at least 1.
func scaleDepth(repeats int, depth float64) int {
	scaled := int(float64(repeats)*depth + 0.5)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}
