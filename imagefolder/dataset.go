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

package imagefolder

import (
	"image"
	"io"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	timage "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var (
	// Assert Dataset implements train.Dataset.
	_ train.Dataset = (*Dataset)(nil)
)

// Dataset implements train.Dataset over a scanned Folder, yielding
// batches of images as channels-last tensors scaled to [0, 1] and
// labels shaped [batchSize, 1].
//
// In training mode (non-nil shuffle) the sample order is reshuffled
// every epoch and only full batches are yielded, so the graph is
// compiled for a single batch shape. In evaluation mode samples are
// yielded in order and the final partial batch is kept, so accuracy
// covers every sample.
type Dataset struct {
	name      string
	folder    *Folder
	batchSize int
	imgSize   int
	toTensor  *timage.ToTensorConfig
	augment   *Augmenter
	shuffle   *rand.Rand

	mu       sync.Mutex
	indices  []int
	position int
}

// NewDataset creates a Dataset over folder. augment may be nil for the
// evaluation pipeline. shuffle may be nil for sequential order, which
// also enables the final partial batch.
func NewDataset(name string, folder *Folder, batchSize, imgSize int, dtype dtypes.DType,
	shuffle *rand.Rand, augment *Augmenter) *Dataset {
	if batchSize <= 0 || imgSize <= 0 {
		exceptions.Panicf("batch size (%d) and image size (%d) must be positive", batchSize, imgSize)
	}
	ds := &Dataset{
		name:      name,
		folder:    folder,
		batchSize: batchSize,
		imgSize:   imgSize,
		toTensor:  timage.ToTensor(dtype),
		augment:   augment,
		shuffle:   shuffle,
	}
	ds.reorder()
	return ds
}

// NumBatches returns how many batches one epoch yields.
func (ds *Dataset) NumBatches() int {
	n := len(ds.folder.Samples)
	if ds.shuffle != nil {
		return n / ds.batchSize
	}
	return (n + ds.batchSize - 1) / ds.batchSize
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset, restarting the epoch.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.position = 0
	ds.reorderLocked()
}

func (ds *Dataset) reorder() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.reorderLocked()
}

func (ds *Dataset) reorderLocked() {
	n := len(ds.folder.Samples)
	if ds.shuffle != nil {
		ds.indices = ds.shuffle.Perm(n)
		return
	}
	ds.indices = ds.indices[:0]
	for i := range n {
		ds.indices = append(ds.indices, i)
	}
}

// nextBatch picks the indices of the next batch, or returns io.EOF when
// the epoch is exhausted, restarting for the next epoch. Only index
// bookkeeping happens under the lock; image decoding runs concurrently.
func (ds *Dataset) nextBatch() ([]int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	remaining := len(ds.indices) - ds.position
	if remaining <= 0 || (ds.shuffle != nil && remaining < ds.batchSize) {
		ds.position = 0
		ds.reorderLocked()
		return nil, io.EOF
	}
	size := min(ds.batchSize, remaining)
	batch := make([]int, size)
	copy(batch, ds.indices[ds.position:ds.position+size])
	ds.position += size
	return batch, nil
}

// Yield implements train.Dataset. It returns:
//
//   - spec: the Dataset itself, not used by the models.
//   - inputs: one tensor with the images, shaped
//     `[batchSize, imgSize, imgSize, 3]`, values in [0, 1].
//   - labels: one tensor with the class indices, shaped `[batchSize, 1]`.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	batch, err := ds.nextBatch()
	if err != nil {
		return nil, nil, nil, err
	}
	images := make([]image.Image, 0, len(batch))
	labelValues := make([]int32, 0, len(batch))
	for _, idx := range batch {
		sample := ds.folder.Samples[idx]
		img, err := ds.load(sample.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		images = append(images, img)
		labelValues = append(labelValues, sample.Label)
	}
	return ds,
		[]*tensors.Tensor{ds.toTensor.Batch(images)},
		[]*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelValues, len(labelValues), 1)},
		nil
}

func (ds *Dataset) load(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %q", path)
	}
	if ds.augment != nil {
		img = ds.augment.Apply(img)
	}
	return ResizeSquare(img, ds.imgSize), nil
}
