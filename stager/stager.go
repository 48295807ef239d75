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

// Package stager drives the per-repository package staging state machine:
// enumerate candidates, stage them into the package directory (downloading
// or linking as the source requires), prune stale files, and link the
// staged set into the versioned tree.
package stager

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/clearlinux/yum-mirror-engine/events"
	"github.com/clearlinux/yum-mirror-engine/fsops"
	"github.com/clearlinux/yum-mirror-engine/internal/stringset"
	"github.com/clearlinux/yum-mirror-engine/pkgsource"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/clearlinux/yum-mirror-engine/rpmhead"
	"github.com/pkg/errors"
)

// State names the stages of the staging state machine.
type State int

// The staging states, in the order spec'd: INIT → ENUMERATE → STAGE → PRUNE
// → VERSION_LINK → DONE, with FAIL reachable from any of them.
const (
	StateInit State = iota
	StateEnumerate
	StateStage
	StatePrune
	StateVersionLink
	StateDone
	StateFail
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEnumerate:
		return "ENUMERATE"
	case StateStage:
		return "STAGE"
	case StatePrune:
		return "PRUNE"
	case StateVersionLink:
		return "VERSION_LINK"
	case StateDone:
		return "DONE"
	case StateFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Stager runs the staging state machine for one repository.
type Stager struct {
	Spec    repospec.RepoSpec
	Layout  repospec.RepoLayout
	Fetcher events.PackageFetcher
	Sink    events.ProgressSink
	Getter  pkgsource.HTTPGetter

	state State
}

// State returns the stager's current state, mainly for tests and logging.
func (s *Stager) State() State { return s.state }

// Result is the outcome of a completed staging run: the effective package
// set (candidates plus any surviving historical packages, per delete=false),
// from which RepoEngine derives the on-disk paths MetadataBuilder parses.
type Result struct {
	Packages []repospec.Package
}

// Run drives INIT through DONE (or FAIL), returning the effective package
// set for MetadataBuilder to consume.
func (s *Stager) Run(ctx context.Context) (Result, error) {
	s.state = StateInit

	candidates, isLocal, err := s.enumerate()
	if err != nil {
		s.state = StateFail
		return Result{}, err
	}

	staged, err := s.stage(ctx, candidates, isLocal)
	if err != nil {
		s.state = StateFail
		return Result{}, err
	}

	effective, err := s.prune(staged)
	if err != nil {
		s.state = StateFail
		return Result{}, err
	}

	if err := s.versionLink(effective); err != nil {
		s.state = StateFail
		return Result{}, err
	}

	s.state = StateDone
	return Result{Packages: effective}, nil
}

func (s *Stager) enumerate() ([]repospec.Package, bool, error) {
	s.state = StateEnumerate

	src := s.Spec.Source
	var (
		candidates []repospec.Package
		err        error
		isLocal    = src.IsLocal()
	)

	switch {
	case isLocal:
		candidates, err = pkgsource.EnumerateLocal(src.LocalPaths, s.Spec.IncludeGlobs, s.Spec.ExcludeGlobs, s.Spec.SrcPkgs)
	case src.Kind == repospec.SourceMirrorList:
		base, rerr := pkgsource.ResolveMirrorList(s.Getter, src.MirrorList)
		if rerr != nil {
			err = rerr
			break
		}
		candidates, err = pkgsource.EnumerateRemote(s.Getter, base, s.Spec.SrcPkgs)
	default:
		candidates, err = pkgsource.EnumerateRemote(s.Getter, src.BaseURL, s.Spec.SrcPkgs)
	}
	if err != nil {
		return nil, isLocal, err
	}

	if s.Spec.NewestOnly && !isLocal {
		candidates = pkgsource.ReduceNewestOnly(candidates)
	}

	s.notify(events.Event{Action: events.ActionRepoInit, Count: len(candidates), IsLocal: isLocal})
	return candidates, isLocal, nil
}

func (s *Stager) stage(ctx context.Context, candidates []repospec.Package, isLocal bool) ([]repospec.Package, error) {
	s.state = StateStage

	if isLocal {
		return s.stageLocal(candidates)
	}
	return s.stageRemote(ctx, candidates)
}

func (s *Stager) stageLocal(candidates []repospec.Package) ([]repospec.Package, error) {
	if s.Spec.LinkType == repospec.LinkHardlink {
		for _, pkg := range candidates {
			dst := filepath.Join(s.Layout.PackageDir, pkg.Filename)
			changed, err := fsops.PlaceHardlink(pkg.LocalPath, dst)
			if err != nil {
				return nil, errors.Wrapf(repospec.ErrPackageDownload, "hardlinking %s: %v", pkg.Filename, err)
			}
			if changed {
				s.notify(events.Event{Action: events.ActionLinkLocalPkg, Name: pkg.Filename, Size: pkg.Size})
			}
		}
	} else {
		// symlink / individual_symlink: package_dir is (or contains) a
		// symlink straight to the source; nothing to copy.
		for _, pkg := range candidates {
			s.notify(events.Event{Action: events.ActionPkgExists, Name: pkg.Filename})
		}
	}
	return candidates, nil
}

func (s *Stager) stageRemote(ctx context.Context, candidates []repospec.Package) ([]repospec.Package, error) {
	workers := s.Spec.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan repospec.Package)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	worker := func() {
		defer wg.Done()
		for pkg := range jobs {
			if ctx.Err() != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = repospec.ErrCancelled
				}
				mu.Unlock()
				continue
			}
			if err := s.stageOnePackage(ctx, pkg); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	for _, pkg := range candidates {
		jobs <- pkg
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return candidates, nil
}

func (s *Stager) stageOnePackage(ctx context.Context, pkg repospec.Package) error {
	dst := filepath.Join(s.Layout.PackageDir, pkg.Filename)

	if info, err := os.Stat(dst); err == nil {
		if (pkg.Size == 0 || info.Size() == pkg.Size) && packageUpToDate(dst, pkg) {
			s.notify(events.Event{Action: events.ActionPkgExists, Name: pkg.Filename, Size: info.Size()})
			return nil
		}
	}

	s.notify(events.Event{Action: events.ActionDownloadStart, Name: pkg.Filename, Size: pkg.Size})
	progress, result, err := s.Fetcher.Fetch(ctx, pkg.RemoteURL, dst)
	if err != nil {
		return errors.Wrapf(repospec.ErrPackageDownload, "fetching %s: %v", pkg.Filename, err)
	}
	if progress != nil {
		for n := range progress {
			s.notify(events.Event{Action: events.ActionDownloadUpdate, Name: pkg.Filename, Size: n})
		}
	}
	if result != nil {
		if ferr := <-result; ferr != nil {
			if ctx.Err() != nil {
				return errors.Wrapf(repospec.ErrCancelled, "fetching %s: %v", pkg.Filename, ferr)
			}
			return errors.Wrapf(repospec.ErrPackageDownload, "fetching %s: %v", pkg.Filename, ferr)
		}
	}
	s.notify(events.Event{Action: events.ActionDownloadEnd, Name: pkg.Filename, Size: pkg.Size})
	return nil
}

// packageUpToDate confirms an on-disk file that matches pkg's byte count is
// also a real RPM whose digest matches what upstream recorded, so a refetch
// of a same-size-but-corrupted file isn't skipped.
func packageUpToDate(path string, pkg repospec.Package) bool {
	if _, err := rpmhead.Read(path); err != nil {
		return false
	}
	if pkg.Digest == "" {
		return true
	}
	got, err := repospec.FileDigestHex(path, pkg.DigestType)
	if err != nil {
		return false
	}
	return got == pkg.Digest
}

func (s *Stager) prune(candidates []repospec.Package) ([]repospec.Package, error) {
	s.state = StatePrune

	symlinkBased := s.Spec.Source.IsLocal() && s.Spec.LinkType != repospec.LinkHardlink
	entries, err := os.ReadDir(s.Layout.PackageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return sortedCopy(candidates), nil
		}
		return nil, errors.Wrapf(repospec.ErrPackageDownload, "reading package directory: %v", err)
	}

	wanted := stringset.New()
	for _, pkg := range candidates {
		wanted.Add(pkg.Filename)
	}

	effective := append([]repospec.Package(nil), candidates...)

	if s.Spec.Delete && !symlinkBased {
		for _, entry := range entries {
			if entry.IsDir() || wanted.Contains(entry.Name()) {
				continue
			}
			if err := os.Remove(filepath.Join(s.Layout.PackageDir, entry.Name())); err != nil {
				continue
			}
			s.notify(events.Event{Action: events.ActionDeletePkg, Name: entry.Name()})
		}
	} else if !s.Spec.Delete {
		for _, entry := range entries {
			if entry.IsDir() || wanted.Contains(entry.Name()) {
				continue
			}
			path := filepath.Join(s.Layout.PackageDir, entry.Name())
			if pkg, ok := parseSurvivor(path, entry.Name()); ok {
				effective = append(effective, pkg)
			}
		}
	}

	return sortedCopy(effective), nil
}

// parseSurvivor re-derives a minimal Package for an on-disk file that is no
// longer a sync candidate but is kept because delete=false. Only a file that
// both looks like a NEVRA filename and still parses as a real RPM header
// qualifies as a survivor; anything else is left alone for the operator to
// deal with.
func parseSurvivor(path, filename string) (repospec.Package, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return repospec.Package{}, false
	}
	pkg, ok := pkgsource.ParseNEVRAFilename(filename)
	if !ok {
		return repospec.Package{}, false
	}
	if _, err := rpmhead.Read(path); err != nil {
		return repospec.Package{}, false
	}
	pkg.LocalPath = path
	pkg.Size = info.Size()
	return pkg, true
}

func (s *Stager) versionLink(effective []repospec.Package) error {
	s.state = StateVersionLink

	if s.Layout.VersionPackageDir == "" {
		return nil
	}

	switch s.Spec.LinkType {
	case repospec.LinkHardlink:
		for _, pkg := range effective {
			src := filepath.Join(s.Layout.PackageDir, pkg.Filename)
			dst := filepath.Join(s.Layout.VersionPackageDir, pkg.Filename)
			if _, err := fsops.PlaceHardlink(src, dst); err != nil {
				return errors.Wrapf(repospec.ErrPackageDownload, "version-linking %s: %v", pkg.Filename, err)
			}
		}
	case repospec.LinkIndividualSymlink:
		for _, pkg := range effective {
			var target string
			if s.Spec.Source.IsLocal() {
				target = pkg.LocalPath
			} else {
				target = filepath.Join(s.Layout.PackageDir, pkg.Filename)
			}
			dst := filepath.Join(s.Layout.VersionPackageDir, pkg.Filename)
			if _, err := fsops.PlaceSymlink(dst, target); err != nil {
				return errors.Wrapf(repospec.ErrFsConflict, "version-linking %s: %v", pkg.Filename, err)
			}
		}
	default: // LinkSymlink: a single relative symlink to the shared package dir.
		target, err := filepath.Rel(s.Layout.VersionDir, s.Layout.PackageDir)
		if err != nil {
			return errors.Wrap(repospec.ErrFsConflict, "version-linking packages directory")
		}
		if _, err := fsops.PlaceSymlink(s.Layout.VersionPackageDir, target); err != nil {
			return errors.Wrap(repospec.ErrFsConflict, "version-linking packages directory")
		}
	}
	return nil
}

func sortedCopy(packages []repospec.Package) []repospec.Package {
	out := append([]repospec.Package(nil), packages...)
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (s *Stager) notify(e events.Event) {
	e.RepoID = s.Spec.ID
	if s.Sink != nil {
		s.Sink.Notify(e)
	}
}
