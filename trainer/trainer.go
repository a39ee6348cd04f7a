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
	"math"
	"math/rand"
	"path/filepath"

	"github.com/gomlx/classifier/imagefolder"
	"github.com/gomlx/classifier/models"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// lrBasePerSample scales the base learning rate with the batch
	// size: lr0 = 1e-4 × batchSize (a tenth of that for Adam).
	lrBasePerSample = 1e-4

	// lrFloorFraction is the fraction of lr0 the cosine schedule decays to.
	lrFloorFraction = 0.01
)

// Results of a completed training run.
type Results struct {
	RunDir      string
	Classes     []string
	BestFitness float64
	BestEpoch   int

	// Final is the evaluation of the last epoch.
	Final *Evaluation
}

// Train runs the full training: dataset preparation, model adaptation,
// the epoch loop with per-epoch cosine learning-rate decay and
// held-out evaluation, and last/best checkpointing. Any error is
// terminal for the run.
func Train(backend backends.Backend, ctx *context.Context, cfg *Config) (*Results, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	// Dataset: download if missing, then discover classes and samples.
	datasetDir, err := imagefolder.EnsureDataset(cfg.DataDir, cfg.Data)
	if err != nil {
		return nil, err
	}
	trainFolder, err := imagefolder.Scan(imagefolder.TrainDir(datasetDir))
	if err != nil {
		return nil, err
	}
	testFolder, err := imagefolder.Scan(imagefolder.TestDir(datasetDir))
	if err != nil {
		return nil, err
	}
	classes := trainFolder.Classes
	klog.Infof("Dataset %q: %d classes, %d training and %d test samples",
		cfg.Data, len(classes), len(trainFolder.Samples), len(testFolder.Samples))

	// Model: resolve the identifier and adapt to the class count.
	builder, err := models.FromName(cfg.Model)
	if err != nil {
		return nil, err
	}
	ctx.SetParam("data_dir", cfg.DataDir)
	if prep, ok := builder.(models.Preparer); ok && context.GetParamOr(ctx, models.ParamPretrained, true) {
		if err := prep.Prep(cfg.DataDir); err != nil {
			return nil, errors.WithMessagef(err, "failed to prepare model %q", cfg.Model)
		}
	}
	modelFn := builder.Adapt(len(classes))

	dtype, err := DTypeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	// The augmenter is drawn from concurrently by the parallelized
	// Yield calls, so it gets its own generator, separate from the
	// one the dataset shuffles with.
	shuffleRNG := rand.New(rand.NewSource(cfg.Seed))
	augment := imagefolder.NewAugmenter(rand.New(rand.NewSource(cfg.Seed + 1)))
	trainDS := imagefolder.NewDataset("train", trainFolder, cfg.BatchSize, cfg.ImgSize, dtype, shuffleRNG, augment)
	evalDS := imagefolder.NewDataset("test", testFolder, cfg.BatchSize, cfg.ImgSize, dtype, nil, nil)
	parallelTrainDS := data.CustomParallel(trainDS).Parallelism(cfg.Workers).Buffer(2 * cfg.Workers).Start()
	defer parallelTrainDS.Done()

	// Optimizer: SGD by default, Adam at a tenth of the base rate.
	lr0 := lrBasePerSample * float64(cfg.BatchSize)
	var optimizer optimizers.Interface
	if cfg.Adam {
		lr0 /= 10
		optimizer = optimizers.Adam().LearningRate(lr0).Done()
	} else {
		optimizer = newMomentumSGD()
	}
	ctx.SetParam(optimizers.ParamLearningRate, lr0)

	gomlxTrainer := train.NewTrainer(backend, ctx, modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizer,
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
	loop := train.NewLoop(gomlxTrainer)
	commandline.AttachProgressBar(loop)

	runDir, err := cfg.RunDir()
	if err != nil {
		return nil, err
	}
	var lastCheckpoint *checkpoints.Handler
	if !cfg.NoSave {
		// "last" holds the full context, optimizer state included, so a
		// run can resume from it.
		lastCheckpoint, err = checkpoints.Build(ctx).
			Dir(filepath.Join(runDir, "weights", "last")).Keep(1).Done()
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create the \"last\" checkpoint")
		}
	}

	// If "last" had a previous checkpoint, the epoch and best fitness
	// params were loaded with it and the run resumes where it stopped.
	startEpoch := context.GetParamOr(ctx, ParamEpoch, -1) + 1
	results := &Results{
		RunDir:      runDir,
		Classes:     classes,
		BestFitness: context.GetParamOr(ctx, ParamBestFitness, 0.0),
		BestEpoch:   -1,
	}
	if startEpoch > 0 {
		klog.Infof("Resuming from %s at epoch %d", lastCheckpoint.Dir(), startEpoch)
	}

	for epoch := startEpoch; epoch < cfg.Epochs; epoch++ {
		lr := cosineLR(lr0, epoch, cfg.Epochs)
		setLearningRate(ctx, dtype, lr)
		if _, err := loop.RunEpochs(parallelTrainDS, 1); err != nil {
			return nil, errors.WithMessagef(err, "training failed at epoch %d", epoch)
		}

		// Held-out evaluation: this epoch's accuracy is its fitness.
		evaluation, err := Evaluate(backend, ctx, modelFn, evalDS, classes)
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluation failed at epoch %d", epoch)
		}
		fitness := evaluation.Accuracy()
		klog.Infof("Epoch %d/%d: lr=%.3g, test accuracy=%.2f%%, test loss=%.4f",
			epoch+1, cfg.Epochs, lr, 100*fitness, evaluation.MeanLoss)
		results.Final = evaluation

		// Ties overwrite "best", so the newest of equally fit models wins.
		isBest := fitness >= results.BestFitness
		if isBest {
			results.BestFitness = fitness
			results.BestEpoch = epoch
		}
		ctx.SetParam(ParamEpoch, epoch)
		ctx.SetParam(ParamBestFitness, results.BestFitness)
		if cfg.NoSave {
			continue
		}
		if err := lastCheckpoint.Save(); err != nil {
			return nil, errors.WithMessagef(err, "failed to save the \"last\" checkpoint at epoch %d", epoch)
		}
		if isBest {
			// "best" is a byte copy of the just saved "last", never a
			// handler of its own: attaching a checkpoint handler to the
			// live context would load whatever "best" held before.
			if err := copyCheckpoint(lastCheckpoint.Dir(), filepath.Join(runDir, "weights", "best")); err != nil {
				return nil, errors.WithMessagef(err, "failed to save the \"best\" checkpoint at epoch %d", epoch)
			}
		}
	}

	// A fully trained checkpoint resumed with nothing left to train
	// still gets its evaluation reported.
	if results.Final == nil {
		results.Final, err = Evaluate(backend, ctx, modelFn, evalDS, classes)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// cosineLR decays the learning rate once per epoch, from lr0 at epoch
// 0 towards lr0×lrFloorFraction.
func cosineLR(lr0 float64, epoch, numEpochs int) float64 {
	progress := float64(epoch) / float64(numEpochs)
	return lr0 * ((1+math.Cos(progress*math.Pi))/2*(1-lrFloorFraction) + lrFloorFraction)
}

// setLearningRate updates the learning rate variable shared by the
// optimizers, creating it on the first epoch.
func setLearningRate(ctx *context.Context, dtype dtypes.DType, lr float64) {
	ctx.SetParam(optimizers.ParamLearningRate, lr)
	lrVar := optimizers.LearningRateVarWithValue(ctx, dtype, lr)
	lrVar.SetValue(tensors.FromAnyValue(shapes.CastAsDType(lr, dtype)))
}
