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

package repospec

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileDigestHex streams path through algo (defaulting to SHA-256 for an
// empty/unrecognized Checksum) and returns the lowercase hex digest, the
// same form upstream repodata and Package.Digest record theirs in.
func FileDigestHex(path string, algo Checksum) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s for digest", path)
	}
	defer f.Close()

	var h hash.Hash
	if algo == ChecksumSHA1 {
		h = sha1.New()
	} else {
		h = sha256.New()
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
