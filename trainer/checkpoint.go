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
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// copyCheckpoint replicates the checkpoint files in srcDir into dstDir,
// creating dstDir if needed. Files previously in dstDir are removed
// first, so it always ends up holding exactly the source snapshot.
func copyCheckpoint(srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0770); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %q", dstDir)
	}
	stale, err := os.ReadDir(dstDir)
	if err != nil {
		return errors.Wrapf(err, "failed to read checkpoint directory %q", dstDir)
	}
	for _, entry := range stale {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dstDir, entry.Name())); err != nil {
			return errors.Wrapf(err, "failed to remove stale checkpoint file %q", entry.Name())
		}
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return errors.Wrapf(err, "failed to read checkpoint directory %q", srcDir)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, entry.Name()), filepath.Join(dstDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", src)
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "failed to copy %q to %q", src, dst)
	}
	return errors.Wrapf(out.Close(), "failed to close %q", dst)
}
