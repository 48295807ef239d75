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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"

	"github.com/clearlinux/yum-mirror-engine/repospec"
)

func digestHex(algo repospec.Checksum, data []byte) string {
	switch algo {
	case repospec.ChecksumSHA1:
		sum := sha1.Sum(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

func checksumTypeName(algo repospec.Checksum) string {
	if algo == repospec.ChecksumSHA1 {
		return "sha1"
	}
	return "sha256"
}
