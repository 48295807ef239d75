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

import "github.com/pkg/errors"

// Sentinel error kinds from spec §7. Wrap these with errors.Wrap/Wrapf at
// each layer boundary; callers discriminate with errors.Is.
var (
	// ErrConfigInvalid means a RepoSpec failed validation at construction
	// time (bad URL scheme, unknown link_type, duplicate id). Halts the
	// whole run.
	ErrConfigInvalid = errors.New("invalid repository configuration")

	// ErrSourceUnavailable means the remote package sack could not be
	// fetched. Recorded as repo_error; only that repository fails.
	ErrSourceUnavailable = errors.New("upstream source unavailable")

	// ErrPackageDownload means staging one package failed (a fetch error,
	// or a hardlink/version-link failure); the stager makes a single fetch
	// attempt per package and does not retry. The owning repository is
	// marked failed.
	ErrPackageDownload = errors.New("package download failed")

	// ErrMetadataBuild means repodata generation failed. Fatal for that
	// repository only; staging is cleaned up.
	ErrMetadataBuild = errors.New("metadata build failed")

	// ErrFsConflict means place_symlink (or an equivalent fs operation)
	// found a non-symlink file occupying its target path.
	ErrFsConflict = errors.New("filesystem path conflict")

	// ErrCrossDevice means a hardlink was attempted across devices.
	ErrCrossDevice = errors.New("cross-device hardlink")

	// ErrCancelled means the sync was interrupted by cancellation.
	ErrCancelled = errors.New("sync cancelled")

	// ErrNotAnRpm means RpmHeader was asked to parse a file whose lead
	// magic bytes don't identify it as an RPM at all.
	ErrNotAnRpm = errors.New("not an RPM file")

	// ErrTruncatedRpm means the file looked like an RPM but ended before
	// its lead, signature, or header could be fully read - a partial
	// download, most commonly.
	ErrTruncatedRpm = errors.New("truncated RPM file")

	// ErrUnsupportedTag means the lead/signature parsed fine but a header
	// tag this engine relies on (starting with NAME) came back in a form
	// RpmHeader doesn't know how to decode.
	ErrUnsupportedTag = errors.New("unsupported RPM header tag")
)
