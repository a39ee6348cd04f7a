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

// Package imagefolder loads labeled image datasets laid out as one
// directory per class, and provides the augmentation pipeline and the
// train.Dataset implementation used for training and evaluation.
//
// The expected layout is:
//
//	<dir>/train/<className>/*.jpg
//	<dir>/test/<className>/*.jpg
//
// Class names are the subdirectory names, sorted lexically, and the
// label of each sample is the index of its class in that sorted order.
package imagefolder

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one labeled image, referenced by its path on disk.
type Sample struct {
	Path  string
	Label int32
}

// Folder is one split (train or test) of a directory-per-class dataset.
// It is immutable once scanned.
type Folder struct {
	Dir     string
	Classes []string
	Samples []Sample
}

// imageExtensions that Scan accepts. Decoding is done by the imaging
// package, which registers these formats.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Scan discovers the classes and samples of one split directory.
// Each subdirectory of dir is a class; files with unknown extensions
// are silently skipped.
func Scan(dir string) (*Folder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan dataset directory %q", dir)
	}
	f := &Folder{Dir: dir}
	for _, entry := range entries {
		if entry.IsDir() {
			f.Classes = append(f.Classes, entry.Name())
		}
	}
	if len(f.Classes) == 0 {
		return nil, errors.Errorf("no class subdirectories found in %q", dir)
	}
	sort.Strings(f.Classes)
	for label, className := range f.Classes {
		classDir := filepath.Join(dir, className)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read class directory %q", classDir)
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(file.Name()))
			if !imageExtensions[ext] {
				continue
			}
			f.Samples = append(f.Samples, Sample{
				Path:  filepath.Join(classDir, file.Name()),
				Label: int32(label),
			})
		}
	}
	if len(f.Samples) == 0 {
		return nil, errors.Errorf("no images found under %q", dir)
	}
	return f, nil
}

// NumClasses returns the number of classes discovered.
func (f *Folder) NumClasses() int { return len(f.Classes) }

// ClassCounts returns the number of samples of each class.
func (f *Folder) ClassCounts() []int {
	counts := make([]int, len(f.Classes))
	for _, sample := range f.Samples {
		counts[sample.Label]++
	}
	return counts
}
