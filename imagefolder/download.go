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
	"fmt"
	"path/filepath"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DatasetsURL is the archive host for the named datasets: the zip for
// dataset "mnist" lives at DatasetsURL/mnist.zip and unpacks to a
// directory of the same name with train/ and test/ splits.
const DatasetsURL = "https://github.com/ultralytics/yolov5/releases/download/v1.0"

// EnsureDataset makes sure baseDir/name exists, downloading and
// unpacking the dataset archive if it doesn't. It returns the dataset
// directory. Any download or unzip failure is returned as an error and
// is meant to be fatal to the run; there is no retry.
func EnsureDataset(baseDir, name string) (string, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	datasetDir := filepath.Join(baseDir, name)
	if data.FileExists(datasetDir) {
		return datasetDir, nil
	}
	url := fmt.Sprintf("%s/%s.zip", DatasetsURL, name)
	klog.Infof("Dataset %q not found locally, downloading from %s", name, url)
	zipFile := filepath.Join(baseDir, name+".zip")
	if err := data.DownloadAndUnzipIfMissing(url, zipFile, baseDir, datasetDir, ""); err != nil {
		return "", errors.Wrapf(err, "failed to download dataset %q", name)
	}
	if !data.FileExists(datasetDir) {
		return "", errors.Errorf("downloaded archive for %q did not unpack to %q", name, datasetDir)
	}
	return datasetDir, nil
}

// TrainDir and TestDir return the split directories of a dataset.
func TrainDir(datasetDir string) string { return filepath.Join(datasetDir, "train") }

// TestDir returns the held-out split directory of a dataset.
func TestDir(datasetDir string) string { return filepath.Join(datasetDir, "test") }
