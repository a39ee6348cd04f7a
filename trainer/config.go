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

// Package trainer drives the supervised training run: it prepares the
// dataset, adapts the selected model to the class count, runs the
// epoch loop with a cosine learning-rate schedule, checkpoints the
// last and best models and evaluates per-class accuracy.
package trainer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ParamDType selects the training precision: "float32" (default)
	// or "bfloat16" for mixed precision.
	ParamDType = "dtype"

	// ParamEpoch and ParamBestFitness record run progress in the
	// context, so checkpoints carry them.
	ParamEpoch       = "epoch"
	ParamBestFitness = "best_fitness"
)

// Config is the explicit run configuration: everything a training run
// needs, constructed once in main and passed along. There is no global
// state.
type Config struct {
	Model string // registry identifier, see models.Names().
	Data  string // dataset name, downloaded to DataDir if missing.

	// DataDir caches datasets and pretrained weights.
	DataDir string

	// Hyp optionally points to a YAML file of context hyperparameters.
	Hyp string

	Epochs    int
	BatchSize int
	ImgSize   int
	Workers   int // parallel image loaders, 0 for the default.

	Adam   bool // Adam instead of SGD, with 1/10th the base learning rate.
	NoSave bool // skip checkpointing entirely.
	Evolve bool // reuse the run directory, like ExistOK.

	// CacheImages is parsed for compatibility but reserved: the loader
	// always streams images from disk.
	CacheImages bool

	Device  string // backend configuration, empty for the default.
	Project string // run directories root, e.g. "runs/train".
	Name    string // run name under Project, e.g. "exp".
	ExistOK bool   // reuse Project/Name instead of incrementing it.

	Seed int64 // seeds dataset shuffling and augmentation.
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.Model == "" || c.Data == "" {
		return errors.New("both a model and a dataset name must be set")
	}
	if c.Epochs <= 0 || c.BatchSize <= 0 || c.ImgSize <= 0 {
		return errors.Errorf("epochs (%d), batch size (%d) and image size (%d) must all be positive",
			c.Epochs, c.BatchSize, c.ImgSize)
	}
	return nil
}

// RunDir resolves (and creates) the output directory of this run,
// Project/Name, auto-incremented (exp, exp2, exp3, ...) unless ExistOK
// or Evolve asks for reuse.
func (c *Config) RunDir() (string, error) {
	base := filepath.Join(data.ReplaceTildeInDir(c.Project), c.Name)
	runDir := IncrementPath(base, c.ExistOK || c.Evolve)
	if err := os.MkdirAll(filepath.Join(runDir, "weights"), 0770); err != nil {
		return "", errors.Wrapf(err, "failed to create run directory %q", runDir)
	}
	return runDir, nil
}

// IncrementPath returns path if it is free (or existOK), otherwise the
// first of path2, path3, ... that doesn't exist yet.
func IncrementPath(path string, existOK bool) string {
	if existOK || !data.FileExists(path) {
		return path
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s%d", path, n)
		if !data.FileExists(candidate) {
			return candidate
		}
	}
}

// LoadHyp reads a YAML file of hyperparameters into the context
// parameters, e.g. `learning_rate: 0.01`. Scalars only.
func LoadHyp(ctx *context.Context, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read hyperparameters file %q", path)
	}
	var params map[string]any
	if err := yaml.Unmarshal(contents, &params); err != nil {
		return errors.Wrapf(err, "failed to parse hyperparameters file %q", path)
	}
	for key, value := range params {
		ctx.SetParam(key, value)
	}
	return nil
}

// DTypeFromContext resolves the training precision parameter.
func DTypeFromContext(ctx *context.Context) (dtypes.DType, error) {
	name := context.GetParamOr(ctx, ParamDType, "float32")
	switch name {
	case "float32":
		return dtypes.Float32, nil
	case "bfloat16":
		return dtypes.BFloat16, nil
	case "float64":
		return dtypes.Float64, nil
	}
	return dtypes.InvalidDType, errors.Errorf(
		"unsupported %q parameter %q, valid values are float32, bfloat16 and float64", ParamDType, name)
}
