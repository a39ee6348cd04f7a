package imagefolder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDatasetExisting(t *testing.T) {
	baseDir := t.TempDir()
	datasetDir := filepath.Join(baseDir, "mnist")
	require.NoError(t, os.MkdirAll(datasetDir, 0770))

	// An existing dataset is used as-is, nothing is downloaded.
	dir, err := EnsureDataset(baseDir, "mnist")
	require.NoError(t, err)
	assert.Equal(t, datasetDir, dir)
}

func TestSplitDirs(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "mnist", "train"), TrainDir(filepath.Join("data", "mnist")))
	assert.Equal(t, filepath.Join("data", "mnist", "test"), TestDir(filepath.Join("data", "mnist")))
}
