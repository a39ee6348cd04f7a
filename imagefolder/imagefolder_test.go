package imagefolder

import (
	"image"
	"image/color"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestSplit writes a directory-per-class split with solid-color
// 8x8 images, one class per entry of counts.
func createTestSplit(t *testing.T, dir string, classes []string, counts []int) {
	require.Equal(t, len(classes), len(counts))
	for classIdx, className := range classes {
		classDir := filepath.Join(dir, className)
		require.NoError(t, os.MkdirAll(classDir, 0770))
		for imgIdx := range counts[classIdx] {
			img := imaging.New(8, 8, color.NRGBA{R: uint8(50 * classIdx), G: 100, B: 150, A: 255})
			path := filepath.Join(classDir, "img_"+string(rune('a'+imgIdx))+".png")
			require.NoError(t, imaging.Save(img, path))
		}
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	// Deliberately not in sorted order.
	createTestSplit(t, dir, []string{"dog", "cat", "bird"}, []int{3, 2, 4})

	folder, err := Scan(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"bird", "cat", "dog"}, folder.Classes)
	assert.Equal(t, 3, folder.NumClasses())
	assert.Equal(t, 9, len(folder.Samples))
	assert.Equal(t, []int{4, 2, 3}, folder.ClassCounts())
	for _, sample := range folder.Samples {
		assert.GreaterOrEqual(t, sample.Label, int32(0))
		assert.Less(t, sample.Label, int32(3))
	}
}

func TestScanErrors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "does_not_exist"))
	require.Error(t, err)

	// A split with no class subdirectories is also an error.
	_, err = Scan(t.TempDir())
	require.Error(t, err)
}

func TestDatasetTraining(t *testing.T) {
	dir := t.TempDir()
	createTestSplit(t, dir, []string{"cat", "dog"}, []int{5, 5})
	folder, err := Scan(dir)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	const batchSize, imgSize = 4, 16
	ds := NewDataset("train", folder, batchSize, imgSize, dtypes.Float32, rng,
		NewAugmenter(rand.New(rand.NewSource(43))))
	assert.Equal(t, "train", ds.Name())
	// 10 samples, full batches only: 2 per epoch.
	assert.Equal(t, 2, ds.NumBatches())

	for epoch := range 2 {
		numBatches := 0
		for {
			_, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			numBatches++
			require.Len(t, inputs, 1)
			require.Len(t, labels, 1)
			assert.Equal(t, []int{batchSize, imgSize, imgSize, 3}, inputs[0].Shape().Dimensions)
			assert.Equal(t, []int{batchSize, 1}, labels[0].Shape().Dimensions)
		}
		assert.Equalf(t, 2, numBatches, "epoch %d", epoch)
	}
}

func TestDatasetEvaluation(t *testing.T) {
	dir := t.TempDir()
	createTestSplit(t, dir, []string{"cat", "dog"}, []int{5, 5})
	folder, err := Scan(dir)
	require.NoError(t, err)

	const batchSize, imgSize = 4, 16
	ds := NewDataset("test", folder, batchSize, imgSize, dtypes.Float32, nil, nil)
	// Sequential mode keeps the final partial batch: 4+4+2.
	assert.Equal(t, 3, ds.NumBatches())

	var batchSizes []int
	var labelSum int
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n := inputs[0].Shape().Dimensions[0]
		batchSizes = append(batchSizes, n)
		assert.Equal(t, []int{n, 1}, labels[0].Shape().Dimensions)
		labels[0].ConstFlatData(func(flat any) {
			for _, label := range flat.([]int32) {
				labelSum += int(label)
			}
		})
	}
	assert.Equal(t, []int{4, 4, 2}, batchSizes)
	// 5 cats (label 0) and 5 dogs (label 1), every sample seen once.
	assert.Equal(t, 5, labelSum)

	// Reset restarts the epoch.
	ds.Reset()
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, 4, inputs[0].Shape().Dimensions[0])
}

// TestDatasetConcurrentYield consumes the training pipeline the way the
// parallelized loop does: several goroutines yielding at once, with the
// dataset shuffling from one generator and the augmenter sampling from
// its own. Best run under the race detector.
func TestDatasetConcurrentYield(t *testing.T) {
	dir := t.TempDir()
	createTestSplit(t, dir, []string{"cat", "dog"}, []int{12, 12})
	folder, err := Scan(dir)
	require.NoError(t, err)

	const batchSize, imgSize, workers = 4, 8, 4
	ds := NewDataset("train", folder, batchSize, imgSize, dtypes.Float32, rand.New(rand.NewSource(42)),
		NewAugmenter(rand.New(rand.NewSource(43))))
	require.Equal(t, 6, ds.NumBatches())

	// An epoch boundary retires one goroutine with io.EOF and restarts
	// the epoch for the others, so all workers finish within `workers`
	// epochs.
	var wg sync.WaitGroup
	var yielded atomic.Int64
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, inputs, labels, err := ds.Yield()
				if err == io.EOF {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, []int{batchSize, imgSize, imgSize, 3}, inputs[0].Shape().Dimensions)
				assert.Equal(t, []int{batchSize, 1}, labels[0].Shape().Dimensions)
				yielded.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, yielded.Load(), int64(ds.NumBatches()))
	assert.LessOrEqual(t, yielded.Load(), int64(workers*ds.NumBatches()))
}

func makeTestImage(size int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: uint8((x + y) * 4), A: 255})
		}
	}
	return img
}

func TestResizeSquare(t *testing.T) {
	img := makeTestImage(32)
	resized := ResizeSquare(img, 13)
	assert.Equal(t, 13, resized.Bounds().Dx())
	assert.Equal(t, 13, resized.Bounds().Dy())
}
