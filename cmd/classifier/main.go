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

// classifier trains an image classifier on a directory-per-class
// dataset, checkpointing the most recent and the best model of the
// run and reporting per-class accuracy.
//
// Example:
//
//	classifier --model yolov5s --data mnist --epochs 10 --img-size 64
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/classifier/models"
	"github.com/gomlx/classifier/trainer"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagModel = flag.String("model", "yolov5s",
		fmt.Sprintf("Model to train, one of: %s.", strings.Join(models.Names(), ", ")))
	flagData = flag.String("data", "mnist",
		"Dataset name. If not present under --data-dir it is downloaded.")
	flagHyp       = flag.String("hyp", "", "Optional YAML file with hyperparameters.")
	flagEpochs    = flag.Int("epochs", 10, "Number of epochs to train.")
	flagBatchSize = flag.Int("batch-size", 128, "Batch size.")
	flagImgSize   = flag.Int("img-size", 64, "Images are resized to this square size.")
	flagNoSave    = flag.Bool("nosave", false, "Skip checkpointing.")
	flagAdam      = flag.Bool("adam", false, "Use Adam instead of SGD.")
	flagEvolve    = flag.Bool("evolve", false, "Reuse the run directory across runs.")
	flagCache     = flag.Bool("cache-images", false, "Reserved. Images are always streamed from disk.")
	flagDevice    = flag.String("device", "",
		"Backend configuration, e.g. \"xla:cuda\". Empty selects the default backend.")
	flagWorkers = flag.Int("workers", 8, "Parallel image loaders, 0 for one per CPU.")
	flagProject = flag.String("project", "runs/train", "Root directory for runs.")
	flagName    = flag.String("name", "exp", "Run name, incremented (exp2, exp3, ...) unless --exist-ok.")
	flagExistOK = flag.Bool("exist-ok", false, "Reuse the run directory if it exists.")
	flagSeed    = flag.Int64("seed", 42, "Seed for shuffling and augmentation.")
	flagDataDir = flag.String("data-dir", "~/.cache/classifier",
		"Directory where datasets and pretrained weights are cached.")
)

func main() {
	ctx := context.New()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M1(commandline.ParseContextSettings(ctx, *settings))
	if *flagHyp != "" {
		must.M(trainer.LoadHyp(ctx, *flagHyp))
	}

	if *flagDevice != "" {
		must.M(os.Setenv(backends.GOMLX_BACKEND, *flagDevice))
	}
	backend := backends.New()

	cfg := &trainer.Config{
		Model:       *flagModel,
		Data:        *flagData,
		DataDir:     *flagDataDir,
		Hyp:         *flagHyp,
		Epochs:      *flagEpochs,
		BatchSize:   *flagBatchSize,
		ImgSize:     *flagImgSize,
		Workers:     *flagWorkers,
		Adam:        *flagAdam,
		NoSave:      *flagNoSave,
		Evolve:      *flagEvolve,
		CacheImages: *flagCache,
		Device:      *flagDevice,
		Project:     *flagProject,
		Name:        *flagName,
		ExistOK:     *flagExistOK,
		Seed:        *flagSeed,
	}
	results := must.M1(trainer.Train(backend, ctx, cfg))

	fmt.Printf("\nPer-class accuracy after %d epochs:\n%s\n", *flagEpochs, results.Final)
	fmt.Println(bestSummary(results))
	if !cfg.NoSave {
		fmt.Printf("Checkpoints saved under %s.\n", results.RunDir)
	}
}

// bestSummary reports the best accuracy and which epoch reached it. A
// resumed run with no epochs left to train improved on no epoch of its
// own, so it reports the carried-over best instead.
func bestSummary(results *trainer.Results) string {
	if results.BestEpoch < 0 {
		return fmt.Sprintf("Best test accuracy %.2f%% from an earlier run.", 100*results.BestFitness)
	}
	return fmt.Sprintf("Best test accuracy %.2f%% at epoch %d.", 100*results.BestFitness, results.BestEpoch+1)
}
