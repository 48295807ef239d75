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

// Package repospec defines the immutable RepoSpec input, the derived
// Package and RepoLayout values, and the validation rules that govern both.
package repospec

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LinkType selects how on-disk RPMs are made to reach the versioned tree.
type LinkType string

// The three supported link strategies.
const (
	LinkSymlink           LinkType = "symlink"
	LinkHardlink          LinkType = "hardlink"
	LinkIndividualSymlink LinkType = "individual_symlink"
)

// Checksum selects the digest algorithm used for repodata checksums.
type Checksum string

// Supported checksum algorithms.
const (
	ChecksumSHA1   Checksum = "sha1"
	ChecksumSHA256 Checksum = "sha256"
)

// SourceKind discriminates the three RepoSpec.Source variants.
type SourceKind int

// The three source variants a RepoSpec may carry.
const (
	SourceBaseURL SourceKind = iota
	SourceMirrorList
	SourceLocalDir
)

// Source is a closed sum type: exactly one of BaseURL, MirrorList, or
// LocalPaths is meaningful, selected by Kind.
type Source struct {
	Kind       SourceKind
	BaseURL    string
	MirrorList string
	LocalPaths []string
}

// NewBaseURLSource builds a Source pulling packages from a repomd-bearing
// base URL.
func NewBaseURLSource(url string) Source { return Source{Kind: SourceBaseURL, BaseURL: url} }

// NewMirrorListSource builds a Source that resolves a mirror list URL to a
// base URL before syncing.
func NewMirrorListSource(url string) Source { return Source{Kind: SourceMirrorList, MirrorList: url} }

// NewLocalDirSource builds a Source enumerating RPMs from one or more local
// directories, in order.
func NewLocalDirSource(paths ...string) Source { return Source{Kind: SourceLocalDir, LocalPaths: paths} }

// IsLocal reports whether this source reads from the local filesystem
// rather than fetching over the network.
func (s Source) IsLocal() bool { return s.Kind == SourceLocalDir }

// RepoSpec is the immutable configuration for one mirrored repository. It is
// constructed once (typically by config.LoadSpecs) and never mutated
// afterward; a RepoEngine derives a RepoLayout from it instead of copying
// and rewriting fields in place.
type RepoSpec struct {
	ID string

	Source Source

	IncludeGlobs []string
	ExcludeGlobs []string

	Checksum Checksum
	LinkType LinkType

	Delete           bool
	CombinedMetadata bool

	// VersionTemplate is a strftime-style layout string (Go reference-time
	// equivalents are computed internally); empty means unversioned.
	VersionTemplate string

	// Stable, if non-empty, is a fixed version string the "stable" link
	// points at, independent of the version produced by this sync.
	Stable string

	// Labels maps a label name to the version string it should point at.
	// "stable" and "latest" are reserved and rejected by Validate.
	Labels map[string]string

	NewestOnly bool
	SrcPkgs    bool
	GPGKeys    []string

	Workers int
}

// Validate checks a RepoSpec for internal consistency, returning
// ErrConfigInvalid (wrapped with detail) on the first violation found.
func (s RepoSpec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.Wrap(ErrConfigInvalid, "id must not be empty")
	}
	if err := validateSource(s.Source); err != nil {
		return err
	}
	switch s.Checksum {
	case "", ChecksumSHA1, ChecksumSHA256:
	default:
		return errors.Wrapf(ErrConfigInvalid, "unknown checksum %q", s.Checksum)
	}
	switch s.LinkType {
	case "", LinkSymlink, LinkHardlink, LinkIndividualSymlink:
	default:
		return errors.Wrapf(ErrConfigInvalid, "unknown link_type %q", s.LinkType)
	}
	for label := range s.Labels {
		if label == "latest" || label == "stable" {
			return errors.Wrapf(ErrConfigInvalid, "label %q is reserved", label)
		}
	}
	if s.VersionTemplate != "" {
		version := s.EvaluatedVersion(time.Now())
		if version == "latest" || version == "stable" {
			return errors.Wrapf(ErrConfigInvalid, "version_template evaluates to reserved name %q", version)
		}
	}
	return nil
}

func validateSource(src Source) error {
	switch src.Kind {
	case SourceBaseURL:
		return validateURL(src.BaseURL, false)
	case SourceMirrorList:
		return validateURL(src.MirrorList, true)
	case SourceLocalDir:
		if len(src.LocalPaths) == 0 {
			return errors.Wrap(ErrConfigInvalid, "local_dir source requires at least one path")
		}
		return nil
	default:
		return errors.Wrap(ErrConfigInvalid, "repo source must be exactly one of base_url, mirror_list, local_dir")
	}
}

func validateURL(u string, forbidFile bool) error {
	switch {
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return nil
	case strings.HasPrefix(u, "file://"):
		if forbidFile {
			return errors.Wrap(ErrConfigInvalid, "mirror_list must not use file:// scheme")
		}
		return nil
	default:
		return errors.Wrapf(ErrConfigInvalid, "unsupported URL scheme in %q", u)
	}
}

// Friendly returns the id with surrounding whitespace and slashes trimmed,
// and remaining slashes replaced with underscores, matching the on-disk
// directory name derivation from spec §3.
func Friendly(id string) string {
	trimmed := strings.Trim(strings.TrimSpace(id), "/")
	return strings.ReplaceAll(trimmed, "/", "_")
}

// EvaluatedVersion renders VersionTemplate at time t using strftime-style
// directives (%Y, %m, %d, %H, %M, %S). An empty template yields "".
func (s RepoSpec) EvaluatedVersion(t time.Time) string {
	if s.VersionTemplate == "" {
		return ""
	}
	return strftime(s.VersionTemplate, t)
}

var strftimeReplacer = func(t time.Time) *strings.Replacer {
	return strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
	)
}

func strftime(template string, t time.Time) string {
	return strftimeReplacer(t).Replace(template)
}

// Package is the derived identity of one RPM, produced by PackageSource and
// enriched by RpmHeader.
type Package struct {
	Name    string
	Version string
	Release string
	Epoch   string
	Arch    string

	// Filename is "name-version-release.arch.rpm", the canonical on-disk
	// and repodata location basename.
	Filename string

	Size int64

	// Exactly one of RemoteURL or LocalPath is set.
	RemoteURL string
	LocalPath string

	// Digest is the per-file checksum recorded by upstream metadata, when
	// known; used to validate already-downloaded files without refetching.
	Digest     string
	DigestType Checksum
}

// EVR formats the epoch:version-release identity used for version
// comparisons and display.
func (p Package) EVR() string {
	if p.Epoch == "" || p.Epoch == "0" {
		return p.Version + "-" + p.Release
	}
	return p.Epoch + ":" + p.Version + "-" + p.Release
}

// RepoLayout holds every on-disk path derived from a RepoSpec and a base
// directory. It is computed fresh each time rather than stored on a mutable
// repo object, per spec §9's design note on avoiding in-place mutation of
// pkgdir.
type RepoLayout struct {
	Dir               string
	PackageDir        string
	VersionDir        string // empty when unversioned
	VersionPackageDir string // empty when unversioned
	LogDir            string
	PublicDir         string
	CombinedRepodata  string
	VersionedRepodata string // empty when unversioned
}

// NewRepoLayout derives every path used by a sync of spec under base,
// evaluated at time t for the version template.
func NewRepoLayout(base string, spec RepoSpec, t time.Time) RepoLayout {
	dir := filepath.Join(base, Friendly(spec.ID))
	packageDir := filepath.Join(dir, "packages")

	layout := RepoLayout{
		Dir:              dir,
		PackageDir:       packageDir,
		LogDir:           dir,
		PublicDir:        filepath.Join(base, "public", Friendly(spec.ID)),
		CombinedRepodata: filepath.Join(dir, "repodata"),
	}

	if version := spec.EvaluatedVersion(t); version != "" {
		versionDir := filepath.Join(dir, version)
		layout.VersionDir = versionDir
		layout.VersionPackageDir = filepath.Join(versionDir, "packages")
		layout.LogDir = versionDir
		layout.VersionedRepodata = filepath.Join(versionDir, "repodata")
	}

	return layout
}

// Version returns the version string this layout was built for ("" when
// unversioned).
func (l RepoLayout) Version(spec RepoSpec, t time.Time) string {
	return spec.EvaluatedVersion(t)
}
