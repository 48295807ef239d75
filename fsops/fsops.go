// Copyright © 2020 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fsops implements the small set of idempotent filesystem
// primitives the rest of the engine builds on: recursive directory
// creation, atomic symlink placement, and same-device hardlink placement.
package fsops

import (
	"os"
	"path/filepath"

	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/pkg/errors"
)

// EnsureDir recursively creates path if it does not already exist, mkdir -p
// style.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0777); err != nil {
		return errors.Wrapf(err, "couldn't create directory %s", path)
	}
	return nil
}

// PlaceSymlink makes linkPath a symlink to target, replacing any prior
// symlink atomically. If linkPath exists and is not a symlink,
// repospec.ErrFsConflict is returned. Returns whether a change was made;
// calling PlaceSymlink twice with the same arguments returns false the
// second time.
func PlaceSymlink(linkPath, target string) (bool, error) {
	info, err := os.Lstat(linkPath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink == 0:
		return false, errors.Wrapf(repospec.ErrFsConflict, "%s exists and is not a symlink", linkPath)
	case err == nil:
		// Existing symlink; compare targets.
		current, rerr := os.Readlink(linkPath)
		if rerr != nil {
			return false, errors.Wrapf(rerr, "couldn't read existing symlink %s", linkPath)
		}
		if current == target {
			return false, nil
		}
	case os.IsNotExist(err):
		if err := EnsureDir(filepath.Dir(linkPath)); err != nil {
			return false, err
		}
	default:
		return false, errors.Wrapf(err, "couldn't stat %s", linkPath)
	}

	// Atomically replace: create the new link under a temp name in the same
	// directory, then rename over the destination. This avoids a window
	// where linkPath is briefly missing for a concurrent reader.
	tmp := linkPath + ".yumsync-tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return false, errors.Wrapf(err, "couldn't create symlink %s -> %s", linkPath, target)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		_ = os.Remove(tmp)
		return false, errors.Wrapf(err, "couldn't finalize symlink %s", linkPath)
	}
	return true, nil
}

// PlaceHardlink hardlinks src to dst. src must already exist. dst's parent
// directory must reside on the same device as src, otherwise
// repospec.ErrCrossDevice is returned. If dst exists but points at a
// different inode than src, it is unlinked and relinked. Returns whether a
// change was made.
func PlaceHardlink(src, dst string) (bool, error) {
	if _, err := os.Stat(src); err != nil {
		return false, errors.Wrapf(err, "%s does not exist - cannot create hardlink", src)
	}
	srcDev, srcIno, err := deviceAndInode(src)
	if err != nil {
		return false, err
	}

	dstDir := filepath.Dir(dst)
	if err := EnsureDir(dstDir); err != nil {
		return false, err
	}

	if dstInfo, err := os.Lstat(dst); err == nil {
		if dstInfo.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(dst); err != nil {
				return false, errors.Wrapf(err, "couldn't remove stale symlink %s", dst)
			}
		} else {
			dstDev, dstIno, err := deviceAndInode(dst)
			if err != nil {
				return false, err
			}
			if dstDev != srcDev {
				return false, errors.Wrapf(repospec.ErrCrossDevice,
					"%s (dev %d) and %s (dev %d) are on different devices", src, srcDev, dst, dstDev)
			}
			if dstIno == srcIno {
				return false, nil
			}
			if err := os.Remove(dst); err != nil {
				return false, errors.Wrapf(err, "couldn't remove stale hardlink target %s", dst)
			}
		}
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "couldn't stat %s", dst)
	} else {
		// dst does not exist yet; verify the parent directory's device
		// against src up front so we fail fast instead of after Link().
		dirDev, err := deviceOf(dstDir)
		if err != nil {
			return false, err
		}
		if dirDev != srcDev {
			return false, errors.Wrapf(repospec.ErrCrossDevice,
				"%s (dev %d) and %s (dev %d) are on different devices", src, srcDev, dstDir, dirDev)
		}
	}

	if err := os.Link(src, dst); err != nil {
		return false, errors.Wrapf(err, "couldn't hardlink %s to %s", src, dst)
	}
	return true, nil
}
