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
	"strings"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
)

const (
	// sgdScope is the scope under which the velocity variables are kept.
	sgdScope = "MomentumSGDOptimizer"

	// sgdMomentum is the decay applied to the velocities each step.
	sgdMomentum = 0.9
)

// momentumSGD implements optimizers.Interface: stochastic gradient
// descent with Nesterov momentum. It applies the learning rate set in
// Context exactly as given, with no built-in decay per global step, so
// the per-epoch schedule is the only thing moving the rate.
//
// It keeps one velocity variable per trainable variable, under its own
// scope, marked non-trainable.
type momentumSGD struct{}

// newMomentumSGD returns a Nesterov momentum SGD optimizer.
func newMomentumSGD() optimizers.Interface {
	return momentumSGD{}
}

// UpdateGraph builds the graph to update the weights for one training step.
// It implements optimizers.Interface.
func (momentumSGD) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	dtype := loss.DType()
	lrVar := optimizers.LearningRateVar(ctx, dtype, optimizers.SgdDefaultLearningRate)
	learningRate := lrVar.ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)
	momentum := Const(g, shapes.CastAsDType(sgdMomentum, dtype))

	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) == 0 {
		Panicf("Context.BuildTrainableVariablesGradientsGraph returned 0 gradients, are there any trainable variables ?")
	}
	numTrainable := len(grads)
	numApplied := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || !v.InUseByGraph(g) {
			return
		}
		if numApplied < numTrainable {
			applyMomentumGraph(ctx, g, v, grads[numApplied], learningRate, momentum)
		}
		numApplied++
	})
	if numApplied != numTrainable {
		Panicf("number of trainable variables for BuildTrainableVariablesGradientsGraph (%d) and "+
			"the gradient application (%d) differ", numTrainable, numApplied)
	}
}

// applyMomentumGraph updates one variable and its velocity.
func applyMomentumGraph(ctx *context.Context, g *Graph, v *context.Variable, grad, learningRate, momentum *Node) {
	velocityVar := velocityVariable(ctx, v)
	momentum = ConvertDType(momentum, grad.DType())
	velocity := Add(Mul(momentum, velocityVar.ValueGraph(g)), grad)
	velocityVar.SetValueGraph(velocity)

	// Nesterov: step along the gradient plus the look-ahead velocity.
	lr := ConvertDType(learningRate, grad.DType())
	step := Mul(lr, Add(grad, Mul(momentum, velocity)))
	step = optimizers.ClipStepByValue(ctx, step)
	v.SetValueGraph(Sub(v.ValueGraph(g), step))
}

// velocityVariable returns, creating it zero-initialized if needed, the
// velocity associated with the given trainable variable.
func velocityVariable(ctx *context.Context, trainable *context.Variable) *context.Variable {
	scopePath := context.ScopeSeparator + sgdScope + trainable.Scope()
	name := trainable.Name() + "_velocity"
	return ctx.InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(name, trainable.Shape()).
		SetTrainable(false)
}

// Clear deletes the velocity variables.
// It implements optimizers.Interface.
func (momentumSGD) Clear(ctx *context.Context) {
	var velocities []*context.Variable
	ctx.EnumerateVariables(func(v *context.Variable) {
		if strings.HasPrefix(v.Scope(), context.ScopeSeparator+sgdScope) {
			velocities = append(velocities, v)
		}
	})
	for _, v := range velocities {
		ctx.DeleteVariable(v.Scope(), v.Name())
	}
}
