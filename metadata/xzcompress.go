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

package metadata

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// xzCompressFile reads src, writes its xz-compressed form to dst, and
// removes src. Used to turn a closed *.sqlite file into the *.sqlite.xz
// shipped in repodata/.
func xzCompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s for xz compression", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	defer out.Close()

	w, err := xz.NewWriter(out)
	if err != nil {
		return errors.Wrap(err, "initializing xz writer")
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return errors.Wrapf(err, "xz-compressing %s", src)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "finalizing xz stream")
	}

	return os.Remove(src)
}
