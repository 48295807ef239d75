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

//go:build linux || darwin

package fsops

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// deviceAndInode returns the device and inode number of path, used to decide
// whether two paths are hardlinkable and whether an existing hardlink
// already points at the expected file.
func deviceAndInode(path string) (dev uint64, ino uint64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "couldn't stat %s", path)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, errors.Errorf("couldn't read device/inode for %s", path)
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}

// deviceOf returns the device number holding path.
func deviceOf(path string) (uint64, error) {
	dev, _, err := deviceAndInode(path)
	return dev, err
}
