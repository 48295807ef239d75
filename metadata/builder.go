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

// Package metadata builds a repodata/ staging directory from a final,
// ordered list of on-disk RPM paths: primary/filelists/other XML (gzipped)
// and their SQLite counterparts (xz-compressed), tied together by
// repomd.xml.
package metadata

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/clearlinux/yum-mirror-engine/events"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/clearlinux/yum-mirror-engine/rpmhead"
	"github.com/pkg/errors"
)

// PassthroughEntry is an extra repodata file carried through untouched
// (modules.yaml, comps.xml) and recorded in repomd.xml under its own type.
type PassthroughEntry struct {
	Type string // repomd <data type="...">
	Path string // source file to copy in
	Ext  string // output extension, e.g. "yaml" or "xml"
}

// Builder builds one repository's repodata from a fixed package list.
type Builder struct {
	RepoRoot string // used to compute each package's location href
	Checksum repospec.Checksum
	Workers  int
	Sink     events.ProgressSink
	RepoID   string
}

// Result is the populated staging directory this build produced; the
// caller (RepoEngine) is responsible for atomically publishing it in place
// of the live repodata/ directory.
type Result struct {
	StagingDir string
}

// Build parses each path in paths with rpmhead, in parallel up to
// Builder.Workers, then composes repodata/ under a fresh staging directory
// beneath parentDir. On any failure the partially written staging directory
// is removed and MetadataBuildError is returned.
func (b *Builder) Build(paths []string, parentDir string, passthrough []PassthroughEntry) (Result, error) {
	b.notify(events.Event{Action: events.ActionRepoMetadata, State: "building"})

	stagingDir, err := os.MkdirTemp(parentDir, "repodata-staging-")
	if err != nil {
		return Result{}, errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	repodataDir := filepath.Join(stagingDir, "repodata")
	if err := os.MkdirAll(repodataDir, 0755); err != nil {
		os.RemoveAll(stagingDir)
		return Result{}, errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	if err := b.build(paths, repodataDir, passthrough); err != nil {
		os.RemoveAll(stagingDir)
		return Result{}, err
	}

	b.notify(events.Event{Action: events.ActionRepoMetadata, State: "complete"})
	return Result{StagingDir: stagingDir}, nil
}

func (b *Builder) build(paths []string, repodataDir string, passthrough []PassthroughEntry) error {
	paths = sortedPaths(paths)
	headers, err := b.parseAll(paths)
	if err != nil {
		return err
	}

	primaryPkgs := make([]primaryPackage, len(headers))
	filelistsPkgs := make([]filelistsPackage, len(headers))
	otherPkgs := make([]otherPackage, len(headers))

	primaryDB, err := openSQLiteWriter(filepath.Join(repodataDir, "primary.sqlite"), "primary")
	if err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	filelistsDB, err := openSQLiteWriter(filepath.Join(repodataDir, "filelists.sqlite"), "filelists")
	if err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	otherDB, err := openSQLiteWriter(filepath.Join(repodataDir, "other.sqlite"), "other")
	if err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	// A single mutex guards all six writers (three in-memory XML slices,
	// three SQLite handles) during add_pkg, since neither the XML
	// accumulation nor the sqlite3 driver handle is safe for concurrent
	// writers; parsing above happened outside this lock.
	var mu sync.Mutex
	for i, h := range headers {
		rel, err := filepath.Rel(b.RepoRoot, paths[i])
		if err != nil {
			rel = filepath.Base(paths[i])
		}
		pkgid := digestHex(b.Checksum, []byte(rel+h.Name+h.Version))

		mu.Lock()
		primaryPkgs[i] = toPrimaryPackage(h, rel, pkgid, b.Checksum)
		filelistsPkgs[i] = toFilelistsPackage(h, pkgid)
		otherPkgs[i] = toOtherPackage(h, pkgid)
		err = primaryDB.addPrimary(int64(i+1), primaryPkgs[i], pkgid)
		if err == nil {
			err = filelistsDB.addFilelists(int64(i+1), filelistsPkgs[i])
		}
		if err == nil {
			err = otherDB.addOther(int64(i+1), otherPkgs[i])
		}
		mu.Unlock()
		if err != nil {
			return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
		}

		b.notify(events.Event{Action: events.ActionRepoMetadata, Count: i + 1, State: percent(i+1, len(headers))})
	}

	primaryChecksum, primarySize, primaryOpenSize, err := writeXMLGz(
		filepath.Join(repodataDir, "primary.xml.gz"), "metadata",
		`xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm"`,
		len(primaryPkgs), primaryPkgs, b.Checksum)
	if err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	filelistsChecksum, filelistsSize, filelistsOpenSize, err := writeXMLGz(
		filepath.Join(repodataDir, "filelists.xml.gz"), "filelists",
		`xmlns="http://linux.duke.edu/metadata/filelists"`,
		len(filelistsPkgs), filelistsPkgs, b.Checksum)
	if err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	otherChecksum, otherSize, otherOpenSize, err := writeXMLGz(
		filepath.Join(repodataDir, "other.xml.gz"), "otherdata",
		`xmlns="http://linux.duke.edu/metadata/other"`,
		len(otherPkgs), otherPkgs, b.Checksum)
	if err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	if err := primaryDB.stampChecksumAndClose(primaryChecksum); err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	if err := filelistsDB.stampChecksumAndClose(filelistsChecksum); err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	if err := otherDB.stampChecksumAndClose(otherChecksum); err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}

	dbFiles := []string{"primary.sqlite", "filelists.sqlite", "other.sqlite"}
	for _, name := range dbFiles {
		src := filepath.Join(repodataDir, name)
		if err := xzCompressFile(src, src+".xz"); err != nil {
			return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
		}
	}

	entries := []repomdData{
		repomdEntry("primary", "primary.xml.gz", repodataDir, primaryChecksum, primarySize, primaryOpenSize, b.Checksum),
		repomdEntry("filelists", "filelists.xml.gz", repodataDir, filelistsChecksum, filelistsSize, filelistsOpenSize, b.Checksum),
		repomdEntry("other", "other.xml.gz", repodataDir, otherChecksum, otherSize, otherOpenSize, b.Checksum),
	}
	for _, name := range []string{"primary_db", "filelists_db", "other_db"} {
		base := map[string]string{"primary_db": "primary.sqlite.xz", "filelists_db": "filelists.sqlite.xz", "other_db": "other.sqlite.xz"}[name]
		entries = append(entries, repomdFileEntry(name, base, repodataDir, b.Checksum))
	}
	for _, p := range passthrough {
		entry, err := passthroughEntry(p, repodataDir)
		if err != nil {
			return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
		}
		entries = append(entries, entry)
	}

	if err := writeRepomd(filepath.Join(repodataDir, "repomd.xml"), entries); err != nil {
		return errors.Wrap(repospec.ErrMetadataBuild, err.Error())
	}
	return nil
}

func (b *Builder) parseAll(paths []string) ([]rpmhead.Header, error) {
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	headers := make([]rpmhead.Header, len(paths))
	errs := make([]error, len(paths))

	type job struct{ idx int }
	jobs := make(chan job)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				h, err := rpmhead.Read(paths[j.idx])
				headers[j.idx] = h
				errs[j.idx] = err
			}
		}()
	}
	for i := range paths {
		jobs <- job{idx: i}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(repospec.ErrMetadataBuild, "parsing %s: %v", paths[i], err)
		}
	}
	return headers, nil
}

func toPrimaryPackage(h rpmhead.Header, href, pkgid string, algo repospec.Checksum) primaryPackage {
	files := make([]xmlPrimaryFile, 0, 4)
	for _, f := range h.Files {
		if f.Flags == "dir" && isDirOfInterest(f.Path) {
			files = append(files, xmlPrimaryFile{Type: "dir", Path: f.Path})
		}
	}
	return primaryPackage{
		Type:        "rpm",
		Name:        h.Name,
		Arch:        h.Arch,
		Version:     xmlVersion{Epoch: emptyToZero(h.Epoch), Ver: h.Version, Rel: h.Release},
		Checksum:    xmlChecksum{Type: checksumTypeName(algo), Pkgid: "YES", Value: pkgid},
		Summary:     h.Summary,
		Description: h.Description,
		Packager:    h.Packager,
		URL:         h.URL,
		Time:        xmlTime{File: time.Now().Unix(), Build: h.BuildTime},
		Size:        xmlSize{Package: h.Size, Installed: h.Size, Archive: h.ArchiveSize},
		Location:    xmlLocation{Href: href},
		Format: xmlFormat{
			License:   h.License,
			Vendor:    h.Vendor,
			Group:     h.Group,
			SourceRPM: h.SourceRPM,
			Provides:  toEntries(h.Provides),
			Requires:  toEntries(h.Requires),
			Conflicts: toEntries(h.Conflicts),
			Obsoletes: toEntries(h.Obsoletes),
			Files:     files,
		},
	}
}

// isDirOfInterest keeps primary.xml's embedded directory list limited to
// the conventional "interesting" prefixes createrepo itself special-cases,
// instead of every directory the package owns.
func isDirOfInterest(path string) bool {
	for _, prefix := range []string{"/etc/", "/usr/lib/sendmail", "/usr/bin/", "/usr/sbin/"} {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func toEntries(names []string) []xmlEntry {
	out := make([]xmlEntry, 0, len(names))
	for _, n := range names {
		out = append(out, xmlEntry{Name: n})
	}
	return out
}

func toFilelistsPackage(h rpmhead.Header, pkgid string) filelistsPackage {
	files := make([]xmlListedFile, 0, len(h.Files))
	for _, f := range h.Files {
		entry := xmlListedFile{Path: f.Path}
		if f.Flags != "file" {
			entry.Type = f.Flags
		}
		files = append(files, entry)
	}
	return filelistsPackage{
		Pkgid:   pkgid,
		Name:    h.Name,
		Arch:    h.Arch,
		Version: xmlVersion{Epoch: emptyToZero(h.Epoch), Ver: h.Version, Rel: h.Release},
		Files:   files,
	}
}

func toOtherPackage(h rpmhead.Header, pkgid string) otherPackage {
	changelog := make([]xmlChangelog, 0, len(h.Changelog))
	for _, c := range h.Changelog {
		changelog = append(changelog, xmlChangelog{Author: c.Name, Date: c.Time, Text: c.Text})
	}
	return otherPackage{
		Pkgid:     pkgid,
		Name:      h.Name,
		Arch:      h.Arch,
		Version:   xmlVersion{Epoch: emptyToZero(h.Epoch), Ver: h.Version, Rel: h.Release},
		Changelog: changelog,
	}
}

func emptyToZero(epoch string) string {
	if epoch == "" {
		return "0"
	}
	return epoch
}

func percent(done, total int) string {
	if total == 0 {
		return "100"
	}
	return itoa(done * 100 / total)
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

// writeXMLGz marshals a flat list of XML package elements under a
// <root packages="N" xmlns...> element, gzip-compresses it to path, and
// returns the gzip checksum, compressed size, and uncompressed size.
func writeXMLGz(path, rootElem, rootAttrs string, count int, elems interface{}, algo repospec.Checksum) (string, int64, int64, error) {
	var body bytes.Buffer
	body.WriteString(xml.Header)
	body.WriteString("<" + rootElem + " " + rootAttrs + ` packages="` + itoa(count) + `">` + "\n")
	if err := marshalElems(&body, elems); err != nil {
		return "", 0, 0, err
	}
	body.WriteString("</" + rootElem + ">\n")

	openSize := int64(body.Len())

	f, err := os.Create(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(body.Bytes()); err != nil {
		gz.Close()
		return "", 0, 0, err
	}
	if err := gz.Close(); err != nil {
		return "", 0, 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, 0, err
	}
	compressedBytes, err := os.ReadFile(path)
	if err != nil {
		return "", 0, 0, err
	}
	return digestHex(algo, compressedBytes), info.Size(), openSize, nil
}

func marshalElems(w *bytes.Buffer, elems interface{}) error {
	enc := xml.NewEncoder(w)
	switch list := elems.(type) {
	case []primaryPackage:
		for _, e := range list {
			if err := enc.Encode(e); err != nil {
				return err
			}
			w.WriteByte('\n')
		}
	case []filelistsPackage:
		for _, e := range list {
			if err := enc.Encode(e); err != nil {
				return err
			}
			w.WriteByte('\n')
		}
	case []otherPackage:
		for _, e := range list {
			if err := enc.Encode(e); err != nil {
				return err
			}
			w.WriteByte('\n')
		}
	}
	return nil
}

func repomdEntry(typ, filename, repodataDir, checksum string, size, openSize int64, algo repospec.Checksum) repomdData {
	return repomdData{
		Type:         typ,
		Checksum:     repomdChecksum{Type: checksumTypeName(algo), Value: checksum},
		OpenChecksum: repomdChecksum{Type: checksumTypeName(algo), Value: openFileChecksum(filepath.Join(repodataDir, filename), algo)},
		Location:     repomdLocation{Href: "repodata/" + filename},
		Timestamp:    time.Now().Unix(),
		Size:         size,
		OpenSize:     openSize,
	}
}

func repomdFileEntry(typ, filename, repodataDir string, algo repospec.Checksum) repomdData {
	path := filepath.Join(repodataDir, filename)
	info, _ := os.Stat(path)
	checksum := fileChecksum(path, algo)
	return repomdData{
		Type:         typ,
		Checksum:     repomdChecksum{Type: checksumTypeName(algo), Value: checksum},
		OpenChecksum: repomdChecksum{Type: checksumTypeName(algo), Value: checksum},
		Location:     repomdLocation{Href: "repodata/" + filename},
		Timestamp:    time.Now().Unix(),
		Size:         sizeOf(info),
		OpenSize:     sizeOf(info),
	}
}

func passthroughEntry(p PassthroughEntry, repodataDir string) (repomdData, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return repomdData{}, err
	}
	dst := filepath.Join(repodataDir, p.Type+"."+p.Ext)
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return repomdData{}, err
	}
	checksum := digestHex(repospec.ChecksumSHA256, data)
	return repomdData{
		Type:         p.Type,
		Checksum:     repomdChecksum{Type: "sha256", Value: checksum},
		OpenChecksum: repomdChecksum{Type: "sha256", Value: checksum},
		Location:     repomdLocation{Href: "repodata/" + p.Type + "." + p.Ext},
		Timestamp:    time.Now().Unix(),
		Size:         int64(len(data)),
		OpenSize:     int64(len(data)),
	}, nil
}

func fileChecksum(path string, algo repospec.Checksum) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return digestHex(algo, data)
}

// openFileChecksum returns the digest of the uncompressed content of the
// gzip file at path, or "" when it cannot be read.
func openFileChecksum(path string, algo repospec.Checksum) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return ""
	}
	defer gz.Close()
	var open bytes.Buffer
	if _, err := open.ReadFrom(gz); err != nil {
		return ""
	}
	return digestHex(algo, open.Bytes())
}

func sizeOf(info os.FileInfo) int64 {
	if info == nil {
		return 0
	}
	return info.Size()
}

// writeRepomd composes repomd.xml in the fixed order:
// primary, filelists, other, primary_db, filelists_db, other_db, then any
// pass-through entries, and writes it atomically.
func writeRepomd(path string, entries []repomdData) error {
	doc := repomdDoc{
		Xmlns:    "http://linux.duke.edu/metadata/repo",
		XmlnsRpm: "http://linux.duke.edu/metadata/rpm",
		Revision: time.Now().Unix(),
		Data:     entries,
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	full := append([]byte(xml.Header), out...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, full, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *Builder) notify(e events.Event) {
	e.RepoID = b.RepoID
	if b.Sink != nil {
		b.Sink.Notify(e)
	}
}

// sortedPaths returns a copy of paths sorted lexicographically by full
// path; build calls it so metadata entries come out in a deterministic
// order regardless of the order the caller passed.
func sortedPaths(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}
