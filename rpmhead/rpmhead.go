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

// Package rpmhead decodes the lead, signature, and header sections of an RPM
// file into the fields MetadataBuilder needs for primary.xml, filelists.xml,
// and other.xml, without shelling out to rpm or createrepo.
package rpmhead

import (
	"io"
	"os"
	"strings"

	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/pkg/errors"
	rpmutils "github.com/sassoftware/go-rpmutils"
)

// ChangelogEntry is one entry of an RPM's %changelog, oldest-last as stored
// in the header.
type ChangelogEntry struct {
	Name string
	Time int64
	Text string
}

// FileEntry describes one file the package installs, as recorded in
// filelists.xml.
type FileEntry struct {
	Path  string
	Flags string // "file", "dir", or "ghost"
}

// Header is the decoded subset of RPM header tags this engine's repodata
// needs. Name/Version/Release/Arch/Epoch mirror repospec.Package; the rest
// feed the richer primary/filelists/other XML bodies.
type Header struct {
	Name    string
	Version string
	Release string
	Epoch   string
	Arch    string

	Summary     string
	Description string
	License     string
	Group       string
	Vendor      string
	URL         string
	Packager    string

	BuildTime   int64
	InstallTime int64
	Size        int64
	ArchiveSize int64

	Provides  []string
	Requires  []string
	Conflicts []string
	Obsoletes []string

	Files     []FileEntry
	Changelog []ChangelogEntry

	SourceRPM       string
	IsSourcePackage bool
}

// Read decodes path's lead, signature header, and main header, and fills in
// Size from the file's on-disk length (the header's own size tags describe
// the installed size, not the packaged file size repodata needs).
func Read(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, errors.Wrapf(err, "couldn't open %s", path)
	}
	defer f.Close()

	h, err := ReadFrom(f)
	if err != nil {
		return Header{}, err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		h.Size = info.Size()
	}
	return h, nil
}

// ReadFrom is like Read but takes an already-open reader, letting callers
// decode from an in-flight download without a temporary file.
func ReadFrom(r io.Reader) (Header, error) {
	pkg, err := rpmutils.ReadRpm(r)
	if err != nil {
		return Header{}, classifyReadErr(err)
	}
	hdr := pkg.Header

	h := Header{
		Name:        getString(hdr, rpmutils.NAME),
		Version:     getString(hdr, rpmutils.VERSION),
		Release:     getString(hdr, rpmutils.RELEASE),
		Arch:        getString(hdr, rpmutils.ARCH),
		Summary:     getString(hdr, rpmutils.SUMMARY),
		Description: getString(hdr, rpmutils.DESCRIPTION),
		License:     getString(hdr, rpmutils.LICENSE),
		Group:       getString(hdr, rpmutils.GROUP),
		Vendor:      getString(hdr, rpmutils.VENDOR),
		URL:         getString(hdr, rpmutils.URL),
		Packager:    getString(hdr, rpmutils.PACKAGER),
		SourceRPM:   getString(hdr, rpmutils.SOURCERPM),
		BuildTime:   getInt(hdr, rpmutils.BUILDTIME),
		InstallTime: getInt(hdr, rpmutils.INSTALLTIME),
		ArchiveSize: getInt(hdr, rpmutils.ARCHIVESIZE),
		Provides:    getStringSlice(hdr, rpmutils.PROVIDENAME),
		Requires:    getStringSlice(hdr, rpmutils.REQUIRENAME),
		Conflicts:   getStringSlice(hdr, rpmutils.CONFLICTNAME),
		Obsoletes:   getStringSlice(hdr, rpmutils.OBSOLETENAME),
	}

	if epoch := getIntSlice(hdr, rpmutils.EPOCH); len(epoch) > 0 {
		h.Epoch = itoa(epoch[0])
	}

	// Source RPMs carry no SOURCERPM tag of their own.
	h.IsSourcePackage = h.SourceRPM == ""

	names := getStringSlice(hdr, rpmutils.BASENAMES)
	dirs := getStringSlice(hdr, rpmutils.DIRNAMES)
	dirIdx := getIntSlice(hdr, rpmutils.DIRINDEXES)
	modes := getIntSlice(hdr, rpmutils.FILEMODES)
	flags := getIntSlice(hdr, rpmutils.FILEFLAGS)
	for i, base := range names {
		dir := ""
		if i < len(dirIdx) && int(dirIdx[i]) < len(dirs) {
			dir = dirs[dirIdx[i]]
		}
		entry := FileEntry{Path: dir + base, Flags: "file"}
		if i < len(modes) && modes[i]&0o170000 == 0o040000 {
			entry.Flags = "dir"
		} else if i < len(flags) && flags[i]&0x40 != 0 { // RPMFILE_GHOST
			entry.Flags = "ghost"
		}
		h.Files = append(h.Files, entry)
	}

	h.Changelog = readChangelog(hdr)

	if h.Name == "" {
		return Header{}, errors.Wrap(repospec.ErrUnsupportedTag, "RPM header missing required NAME tag")
	}
	return h, nil
}

// classifyReadErr sorts a go-rpmutils decode failure into the NotAnRpm/
// TruncatedRpm/UnsupportedTag taxonomy: a short read during lead/signature/
// header parsing means the stream ended early (most commonly a partial
// download), while a rejected lead magic means the file was never an RPM to
// begin with. Anything else parsed far enough to know the file was
// structurally an RPM but tripped over a tag this decoder doesn't handle.
func classifyReadErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errors.Wrap(repospec.ErrTruncatedRpm, err.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "eof"), strings.Contains(msg, "short read"), strings.Contains(msg, "truncat"):
		return errors.Wrap(repospec.ErrTruncatedRpm, err.Error())
	case strings.Contains(msg, "magic"), strings.Contains(msg, "lead"):
		return errors.Wrap(repospec.ErrNotAnRpm, err.Error())
	default:
		return errors.Wrap(repospec.ErrUnsupportedTag, err.Error())
	}
}

func readChangelog(hdr *rpmutils.RpmHeader) []ChangelogEntry {
	names := getStringSlice(hdr, rpmutils.CHANGELOGNAME)
	texts := getStringSlice(hdr, rpmutils.CHANGELOGTEXT)
	times := getIntSlice(hdr, rpmutils.CHANGELOGTIME)

	n := len(names)
	if len(texts) < n {
		n = len(texts)
	}
	if len(times) < n {
		n = len(times)
	}
	entries := make([]ChangelogEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, ChangelogEntry{Name: names[i], Text: texts[i], Time: times[i]})
	}
	return entries
}

// getString, getStringSlice, getInt, and getIntSlice wrap the raw
// Header.Get(tag) accessor, matching the tag-retrieval pattern used
// throughout the rpmutils-based parsers in the retrieval corpus.
func getString(hdr *rpmutils.RpmHeader, tag int) string {
	v, err := hdr.Get(tag)
	if err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}

func getStringSlice(hdr *rpmutils.RpmHeader, tag int) []string {
	v, err := hdr.Get(tag)
	if err != nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case string:
		return []string{t}
	}
	return nil
}

func getInt(hdr *rpmutils.RpmHeader, tag int) int64 {
	vals := getIntSlice(hdr, tag)
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

func getIntSlice(hdr *rpmutils.RpmHeader, tag int) []int64 {
	v, err := hdr.Get(tag)
	if err != nil {
		return nil
	}
	switch t := v.(type) {
	case []int64:
		return t
	case []int32:
		out := make([]int64, len(t))
		for i, x := range t {
			out[i] = int64(x)
		}
		return out
	case []uint16:
		out := make([]int64, len(t))
		for i, x := range t {
			out[i] = int64(x)
		}
		return out
	case int:
		return []int64{int64(t)}
	case int64:
		return []int64{t}
	}
	return nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
