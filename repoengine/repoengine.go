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

// Package repoengine composes fsops, stager, and metadata into the
// per-repository sync sequence: set up directories, fetch GPG keys, stage
// packages, build metadata, and update the latest/stable/label links.
package repoengine

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clearlinux/yum-mirror-engine/events"
	"github.com/clearlinux/yum-mirror-engine/fsops"
	"github.com/clearlinux/yum-mirror-engine/metadata"
	"github.com/clearlinux/yum-mirror-engine/pkgsource"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/clearlinux/yum-mirror-engine/stager"
	"github.com/pkg/errors"
)

// Engine runs one repository's full sync: setup_directories,
// download_gpgkey, prepare_packages, prepare_metadata, create_links.
type Engine struct {
	Spec repospec.RepoSpec
	Base string // directory under which this repo's friendly(id) tree lives

	Fetcher events.PackageFetcher
	Getter  pkgsource.HTTPGetter
	Sink    events.ProgressSink

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// Summary is a small diagnostic snapshot returned alongside a successful
// sync, useful for status reporting without re-deriving the layout.
type Summary struct {
	RepoID       string
	PackageCount int
	Version      string
	Dir          string
}

func (s Summary) String() string {
	if s.Version == "" {
		return s.RepoID + ": " + itoa(s.PackageCount) + " packages"
	}
	return s.RepoID + "@" + s.Version + ": " + itoa(s.PackageCount) + " packages"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Sync runs the full per-repository sequence and returns a Summary on
// success. Any step failing surfaces repo_error and returns a wrapped
// sentinel error; partial on-disk state is left for the next run to
// recover, matching the source material's crash-resumable design.
func (e *Engine) Sync(ctx context.Context) (Summary, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	at := now()
	layout := repospec.NewRepoLayout(e.Base, e.Spec, at)

	if err := e.setupDirectories(layout); err != nil {
		return e.fail(err)
	}
	if err := e.downloadGPGKeys(ctx, layout); err != nil {
		return e.fail(err)
	}

	result, err := e.preparePackages(ctx, layout)
	if err != nil {
		return e.fail(err)
	}

	passthrough, cleanup, err := e.groupData(layout)
	if err != nil {
		return e.fail(err)
	}
	defer cleanup()

	if err := e.prepareMetadata(layout, result.Packages, passthrough); err != nil {
		return e.fail(err)
	}

	if err := e.createLinks(layout, e.Spec.EvaluatedVersion(at)); err != nil {
		return e.fail(err)
	}

	e.notify(events.Event{Action: events.ActionRepoComplete})
	return Summary{
		RepoID:       e.Spec.ID,
		PackageCount: len(result.Packages),
		Version:      e.Spec.EvaluatedVersion(at),
		Dir:          layout.Dir,
	}, nil
}

func (e *Engine) fail(err error) (Summary, error) {
	e.notify(events.Event{Action: events.ActionRepoError, State: err.Error()})
	return Summary{}, err
}

// setupDirectories materializes package_dir and version_package_dir per
// link-type rules, replacing a stale symlink with a directory when the link
// type changed since the previous run. An existing directory is never
// replaced with a symlink here.
func (e *Engine) setupDirectories(layout repospec.RepoLayout) error {
	dirs := []string{layout.Dir, layout.PackageDir}
	if layout.VersionDir != "" {
		dirs = append(dirs, layout.VersionDir)
	}
	for _, dir := range dirs {
		if err := reconcileDirKind(dir); err != nil {
			return errors.Wrap(repospec.ErrFsConflict, err.Error())
		}
	}
	if layout.VersionDir != "" && e.Spec.LinkType != repospec.LinkSymlink {
		if err := fsops.EnsureDir(layout.VersionPackageDir); err != nil {
			return errors.Wrap(repospec.ErrFsConflict, err.Error())
		}
	}
	return nil
}

// reconcileDirKind ensures path is a plain directory, replacing a stale
// symlink left over from a previous link_type=symlink run.
func reconcileDirKind(path string) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return fsops.EnsureDir(path)
}

// downloadGPGKeys fetches each configured key into layout.Dir, idempotent
// across runs: an existing file of the expected name is left alone.
func (e *Engine) downloadGPGKeys(ctx context.Context, layout repospec.RepoLayout) error {
	client, ok := e.Getter.(*http.Client)
	if !ok {
		client = http.DefaultClient
	}
	for _, keyURL := range e.Spec.GPGKeys {
		dst := filepath.Join(layout.Dir, filepath.Base(keyURL))
		if _, err := os.Stat(dst); err == nil {
			e.notify(events.Event{Action: events.ActionGpgkeyExists, Name: filepath.Base(keyURL)})
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURL, nil)
		if err != nil {
			e.notify(events.Event{Action: events.ActionGpgkeyError, Name: keyURL})
			return errors.Wrap(repospec.ErrSourceUnavailable, err.Error())
		}
		resp, err := client.Do(req)
		if err != nil {
			e.notify(events.Event{Action: events.ActionGpgkeyError, Name: keyURL})
			return errors.Wrap(repospec.ErrSourceUnavailable, err.Error())
		}
		func() {
			defer resp.Body.Close()
			f, ferr := os.Create(dst)
			if ferr != nil {
				err = ferr
				return
			}
			defer f.Close()
			if _, cerr := io.Copy(f, resp.Body); cerr != nil {
				err = cerr
			}
		}()
		if err != nil {
			e.notify(events.Event{Action: events.ActionGpgkeyError, Name: keyURL})
			return errors.Wrap(repospec.ErrSourceUnavailable, err.Error())
		}
		e.notify(events.Event{Action: events.ActionGpgkeyDownload, Name: filepath.Base(keyURL)})
	}
	return nil
}

// groupData fetches upstream comps/group XML for remote repos and stages it
// as a metadata.PassthroughEntry that MetadataBuilder will carry untouched
// into repomd.xml under the "group" type. Local-dir repos have no upstream
// to ask, so they're skipped entirely, same as a repo with no group data
// published. The returned cleanup always removes the temp file it created,
// even when called after a failure.
func (e *Engine) groupData(layout repospec.RepoLayout) ([]metadata.PassthroughEntry, func(), error) {
	noop := func() {}
	if e.Spec.Source.IsLocal() {
		return nil, noop, nil
	}

	baseURL := e.Spec.Source.BaseURL
	if e.Spec.Source.Kind == repospec.SourceMirrorList {
		resolved, err := pkgsource.ResolveMirrorList(e.Getter, e.Spec.Source.MirrorList)
		if err != nil {
			e.notify(events.Event{Action: events.ActionRepoGroupData, State: "unavailable"})
			return nil, noop, nil
		}
		baseURL = resolved
	}

	data, ok, err := pkgsource.FetchGroupData(e.Getter, baseURL)
	if err != nil || !ok {
		e.notify(events.Event{Action: events.ActionRepoGroupData, State: "unavailable"})
		return nil, noop, nil
	}

	f, err := os.CreateTemp("", "yum-mirror-groupdata-*.xml")
	if err != nil {
		return nil, noop, errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return nil, noop, errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, noop, errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	e.notify(events.Event{Action: events.ActionRepoGroupData, State: "available"})
	return []metadata.PassthroughEntry{{Type: "group", Path: path, Ext: "xml"}}, cleanup, nil
}

func (e *Engine) preparePackages(ctx context.Context, layout repospec.RepoLayout) (stager.Result, error) {
	s := &stager.Stager{
		Spec:    e.Spec,
		Layout:  layout,
		Fetcher: e.Fetcher,
		Sink:    e.Sink,
		Getter:  e.Getter,
	}
	return s.Run(ctx)
}

func (e *Engine) prepareMetadata(layout repospec.RepoLayout, packages []repospec.Package, passthrough []metadata.PassthroughEntry) error {
	paths := make([]string, len(packages))
	for i, p := range packages {
		if p.LocalPath != "" {
			paths[i] = p.LocalPath
		} else {
			paths[i] = filepath.Join(layout.PackageDir, p.Filename)
		}
	}

	builder := &metadata.Builder{
		RepoRoot: layout.Dir,
		Checksum: e.Spec.Checksum,
		Workers:  e.Spec.Workers,
		Sink:     e.Sink,
		RepoID:   e.Spec.ID,
	}
	result, err := builder.Build(paths, layout.Dir, passthrough)
	if err != nil {
		return err
	}

	builtRepodata := filepath.Join(result.StagingDir, "repodata")

	unversioned := layout.VersionDir == ""
	if unversioned || e.Spec.CombinedMetadata {
		if err := publishRepodata(builtRepodata, layout.CombinedRepodata); err != nil {
			os.RemoveAll(result.StagingDir)
			return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
		}
	} else {
		os.RemoveAll(layout.CombinedRepodata)
	}

	if layout.VersionedRepodata != "" {
		if unversioned || e.Spec.CombinedMetadata {
			// Already published once above; publishRepodata moved the
			// staged dir away, so copy the published combined copy into
			// the versioned location.
			if err := copyDir(layout.CombinedRepodata, layout.VersionedRepodata); err != nil {
				return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
			}
		} else if err := publishRepodata(builtRepodata, layout.VersionedRepodata); err != nil {
			os.RemoveAll(result.StagingDir)
			return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
		}
	}

	os.RemoveAll(result.StagingDir)
	return nil
}

// publishRepodata replaces dst with builtDir by removing dst and then
// renaming builtDir into place; dst is briefly absent between the two
// steps. The staging dir is removed by the caller afterward regardless of
// which branch ran.
func publishRepodata(builtDir, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := fsops.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	return os.Rename(builtDir, dst)
}

func copyDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := fsops.EnsureDir(dst); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, entry.Name()), data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// createLinks sets latest/stable/label links when versioned, or removes
// them when not.
func (e *Engine) createLinks(layout repospec.RepoLayout, version string) error {
	latest := filepath.Join(layout.Dir, "latest")
	stable := filepath.Join(layout.Dir, "stable")

	if version == "" {
		os.Remove(latest)
		os.Remove(stable)
		return nil
	}

	if _, err := fsops.PlaceSymlink(latest, version); err != nil {
		return errors.Wrap(repospec.ErrFsConflict, err.Error())
	}
	e.notify(events.Event{Action: events.ActionRepoLinkSet, Label: "latest", Target: version})

	if e.Spec.Stable != "" {
		if _, err := fsops.PlaceSymlink(stable, e.Spec.Stable); err != nil {
			return errors.Wrap(repospec.ErrFsConflict, err.Error())
		}
		e.notify(events.Event{Action: events.ActionRepoLinkSet, Label: "stable", Target: e.Spec.Stable})
	} else {
		os.Remove(stable)
	}

	for label, target := range e.Spec.Labels {
		link := filepath.Join(layout.Dir, label)
		if _, err := fsops.PlaceSymlink(link, target); err != nil {
			return errors.Wrap(repospec.ErrFsConflict, err.Error())
		}
		e.notify(events.Event{Action: events.ActionRepoLinkSet, Label: label, Target: target})
	}
	return nil
}

// SetSink installs the progress sink this engine reports to. An
// orchestrator driving many engines concurrently uses this to route every
// engine's events through one aggregating sink.
func (e *Engine) SetSink(sink events.ProgressSink) {
	e.Sink = sink
}

func (e *Engine) notify(ev events.Event) {
	ev.RepoID = e.Spec.ID
	if e.Sink != nil {
		e.Sink.Notify(ev)
	}
}
