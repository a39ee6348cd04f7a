package trainer

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

// createTinyDataset writes a 2-class dataset of solid-color images
// under dataDir/name, so EnsureDataset finds it and skips downloading.
func createTinyDataset(t *testing.T, dataDir, name string) {
	colors := []color.NRGBA{
		{R: 250, G: 10, B: 10, A: 255},
		{R: 10, G: 10, B: 250, A: 255},
	}
	for _, split := range []string{"train", "test"} {
		for classIdx, className := range []string{"blue", "red"} {
			classDir := filepath.Join(dataDir, name, split, className)
			require.NoError(t, os.MkdirAll(classDir, 0770))
			for imgIdx := range 8 {
				img := imaging.New(16, 16, colors[1-classIdx])
				path := filepath.Join(classDir, "img_"+string(rune('a'+imgIdx))+".png")
				require.NoError(t, imaging.Save(img, path))
			}
		}
	}
}

func TestTrain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training for -short tests")
	}
	backend := backends.New()
	tmpDir := t.TempDir()
	createTinyDataset(t, tmpDir, "tiny")

	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"cnn_num_layers": 2,
		"cnn_channels":   8,
	})
	cfg := &Config{
		Model:     "cnn",
		Data:      "tiny",
		DataDir:   tmpDir,
		Epochs:    2,
		BatchSize: 4,
		ImgSize:   16,
		Workers:   2,
		Adam:      true,
		Project:   filepath.Join(tmpDir, "runs"),
		Name:      "exp",
		Seed:      42,
	}
	results, err := Train(backend, ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"blue", "red"}, results.Classes)
	assert.GreaterOrEqual(t, results.BestFitness, 0.0)
	assert.LessOrEqual(t, results.BestFitness, 1.0)
	require.NotNil(t, results.Final)
	assert.Equal(t, 16, results.Final.NumSamples)
	assert.Len(t, results.Final.PerClass, 2)

	// Both checkpoint slots must have been written: epoch 0 is always a
	// new best.
	assert.True(t, data.FileExists(filepath.Join(results.RunDir, "weights", "last")))
	assert.True(t, data.FileExists(filepath.Join(results.RunDir, "weights", "best")))

	// A second run must not reuse the first run's directory.
	secondRunDir := IncrementPath(filepath.Join(cfg.Project, cfg.Name), false)
	assert.NotEqual(t, results.RunDir, secondRunDir)
}

func TestTrainNoSave(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training for -short tests")
	}
	backend := backends.New()
	tmpDir := t.TempDir()
	createTinyDataset(t, tmpDir, "tiny")

	ctx := context.New()
	ctx.SetParams(map[string]any{
		"cnn_num_layers": 2,
		"cnn_channels":   8,
	})
	cfg := &Config{
		Model:     "cnn",
		Data:      "tiny",
		DataDir:   tmpDir,
		Epochs:    1,
		BatchSize: 4,
		ImgSize:   16,
		Workers:   1,
		NoSave:    true,
		Project:   filepath.Join(tmpDir, "runs"),
		Name:      "exp",
		Seed:      1,
	}
	results, err := Train(backend, ctx, cfg)
	require.NoError(t, err)
	assert.False(t, data.FileExists(filepath.Join(results.RunDir, "weights", "last")))
}
