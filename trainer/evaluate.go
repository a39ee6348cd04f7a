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

package trainer

import (
	"fmt"
	"io"
	"strings"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// ClassResult is the per-class evaluation breakdown.
type ClassResult struct {
	Name    string
	Count   int
	Correct int
}

// Accuracy of one class, in [0, 1]. Classes with no samples report 0.
func (r ClassResult) Accuracy() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Count)
}

// Evaluation aggregates one pass over a held-out split.
type Evaluation struct {
	NumSamples int
	Correct    int
	MeanLoss   float64
	PerClass   []ClassResult
}

// Accuracy is the mean per-sample correctness, in [0, 1]. It is the
// fitness used to rank checkpoints.
func (e *Evaluation) Accuracy() float64 {
	if e.NumSamples == 0 {
		return 0
	}
	return float64(e.Correct) / float64(e.NumSamples)
}

// Tally accumulates one batch of predictions.
func (e *Evaluation) Tally(predictions, labels []int32) error {
	if len(predictions) != len(labels) {
		return errors.Errorf("got %d predictions for %d labels", len(predictions), len(labels))
	}
	for i, label := range labels {
		if int(label) < 0 || int(label) >= len(e.PerClass) {
			return errors.Errorf("label %d out of range, only %d classes known", label, len(e.PerClass))
		}
		e.NumSamples++
		e.PerClass[label].Count++
		if predictions[i] == label {
			e.Correct++
			e.PerClass[label].Correct++
		}
	}
	return nil
}

// String formats the verbose per-class breakdown.
func (e *Evaluation) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%32s: %5d samples, accuracy %6.2f%%\n", "all", e.NumSamples, 100*e.Accuracy())
	for _, class := range e.PerClass {
		fmt.Fprintf(&sb, "%32s: %5d samples, accuracy %6.2f%%\n", class.Name, class.Count, 100*class.Accuracy())
	}
	return sb.String()
}

// Evaluate runs the model over every batch of ds without touching any
// weights, and reports aggregate accuracy, mean loss and the per-class
// breakdown. The predicted class of each sample is the arg-max over
// the logits.
func Evaluate(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	ds train.Dataset, classes []string) (*Evaluation, error) {
	evaluation := &Evaluation{PerClass: make([]ClassResult, len(classes))}
	for i, name := range classes {
		evaluation.PerClass[i].Name = name
	}

	exec := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, images, labels *Node) []*Node {
		g := images.Graph()
		ctx.SetTraining(g, false)
		logits := modelFn(ctx, nil, []*Node{images})[0]
		predictions := ArgMax(logits, -1, dtypes.Int32)
		loss := losses.SparseCategoricalCrossEntropyLogits([]*Node{labels}, []*Node{logits})
		loss = ConvertDType(ReduceAllMean(loss), dtypes.Float32)
		return []*Node{predictions, loss}
	})

	ds.Reset()
	numBatches := int64(-1)
	if sized, ok := ds.(interface{ NumBatches() int }); ok {
		numBatches = int64(sized.NumBatches())
	}
	bar := progressbar.Default(numBatches, "evaluate")
	defer func() { _ = bar.Finish() }()

	var lossSum float64
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessage(err, "evaluation dataset failed")
		}
		outputs := exec.Call(inputs[0], labels[0])
		predictions := tensors.CopyFlatData[int32](outputs[0])
		batchLabels := tensors.CopyFlatData[int32](labels[0])
		if err := evaluation.Tally(predictions, batchLabels); err != nil {
			return nil, err
		}
		lossSum += float64(tensors.ToScalar[float32](outputs[1])) * float64(len(batchLabels))
		_ = bar.Add(1)
	}
	if evaluation.NumSamples == 0 {
		return nil, errors.New("evaluation dataset yielded no samples")
	}
	evaluation.MeanLoss = lossSum / float64(evaluation.NumSamples)
	return evaluation, nil
}
