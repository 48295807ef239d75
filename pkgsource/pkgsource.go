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

// Package pkgsource enumerates the packages a RepoSpec's Source makes
// available: parsing an upstream repomd.xml/primary.xml sack for remote
// sources, or walking one or more directories for local ones.
package pkgsource

import (
	"compress/gzip"
	"encoding/xml"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/clearlinux/yum-mirror-engine/rpmhead"
	"github.com/pkg/errors"
)

// repomd mirrors the subset of repomd.xml this package needs: the location
// of the primary metadata file, which may be plain or gzip-compressed.
type repomd struct {
	XMLName xml.Name `xml:"repomd"`
	Data    []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

func (r repomd) locationFor(kind string) (string, bool) {
	for _, d := range r.Data {
		if d.Type == kind {
			return d.Location.Href, true
		}
	}
	return "", false
}

// primaryXML mirrors the subset of primary.xml(.gz) needed to build a
// repospec.Package per upstream entry.
type primaryXML struct {
	XMLName  xml.Name `xml:"metadata"`
	Packages []struct {
		Name string `xml:"name"`
		Arch string `xml:"arch"`
		Version struct {
			Epoch string `xml:"epoch,attr"`
			Ver   string `xml:"ver,attr"`
			Rel   string `xml:"rel,attr"`
		} `xml:"version"`
		Checksum struct {
			Type  string `xml:"type,attr"`
			Value string `xml:",chardata"`
		} `xml:"checksum"`
		Size struct {
			Package int64 `xml:"package,attr"`
		} `xml:"size"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"package"`
}

// HTTPGetter is the minimal surface pkgsource needs to fetch a small text
// file (repomd.xml, primary.xml.gz) during enumeration; *http.Client
// satisfies it directly.
type HTTPGetter interface {
	Get(url string) (*http.Response, error)
}

// EnumerateRemote fetches and parses baseURL's repodata/repomd.xml and the
// primary metadata it references, returning one Package per upstream entry.
// Source-only entries are kept only when includeSrc is true.
func EnumerateRemote(client HTTPGetter, baseURL string, includeSrc bool) ([]repospec.Package, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	md, err := fetchAndParseRepomd(client, baseURL)
	if err != nil {
		return nil, err
	}

	primaryHref, ok := md.locationFor("primary")
	if !ok {
		return nil, errors.Wrap(repospec.ErrSourceUnavailable, "repomd.xml has no primary data entry")
	}

	body, err := fetchBytes(client, baseURL+"/"+primaryHref)
	if err != nil {
		return nil, errors.Wrapf(repospec.ErrSourceUnavailable, "fetching %s: %v", primaryHref, err)
	}

	reader := io.Reader(newByteReader(body))
	if strings.HasSuffix(primaryHref, ".gz") {
		gz, err := gzip.NewReader(newByteReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "primary metadata is not valid gzip")
		}
		defer gz.Close()
		reader = gz
	}

	var px primaryXML
	if err := xml.NewDecoder(reader).Decode(&px); err != nil {
		return nil, errors.Wrap(err, "couldn't parse primary metadata XML")
	}

	packages := make([]repospec.Package, 0, len(px.Packages))
	for _, p := range px.Packages {
		if !includeSrc && p.Arch == "src" {
			continue
		}
		filename := filepath.Base(p.Location.Href)
		packages = append(packages, repospec.Package{
			Name:       p.Name,
			Version:    p.Version.Ver,
			Release:    p.Version.Rel,
			Epoch:      p.Version.Epoch,
			Arch:       p.Arch,
			Filename:   filename,
			Size:       p.Size.Package,
			RemoteURL:  baseURL + "/" + p.Location.Href,
			Digest:     p.Checksum.Value,
			DigestType: checksumKind(p.Checksum.Type),
		})
	}

	sortPackages(packages)
	return packages, nil
}

func fetchAndParseRepomd(client HTTPGetter, baseURL string) (repomd, error) {
	body, err := fetchBytes(client, baseURL+"/repodata/repomd.xml")
	if err != nil {
		return repomd{}, errors.Wrapf(repospec.ErrSourceUnavailable, "fetching repomd.xml: %v", err)
	}
	var md repomd
	if err := xml.NewDecoder(newByteReader(body)).Decode(&md); err != nil {
		return repomd{}, errors.Wrap(err, "couldn't parse repomd.xml")
	}
	return md, nil
}

func fetchBytes(client HTTPGetter, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func checksumKind(xmlType string) repospec.Checksum {
	switch xmlType {
	case "sha256":
		return repospec.ChecksumSHA256
	default:
		return repospec.ChecksumSHA1
	}
}

// FetchGroupData fetches baseURL's comps/group XML, as referenced by its
// repodata/repomd.xml "group" (or gzip-compressed "group_gz") entry. It
// returns ok=false, rather than an error, when the repo simply has no group
// data to offer - that is the common case and not a sync failure.
func FetchGroupData(client HTTPGetter, baseURL string) (data []byte, ok bool, err error) {
	baseURL = strings.TrimRight(baseURL, "/")

	md, err := fetchAndParseRepomd(client, baseURL)
	if err != nil {
		return nil, false, err
	}

	href, found := md.locationFor("group_gz")
	gzipped := found
	if !found {
		href, found = md.locationFor("group")
	}
	if !found {
		return nil, false, nil
	}

	body, err := fetchBytes(client, baseURL+"/"+href)
	if err != nil {
		return nil, false, errors.Wrapf(repospec.ErrSourceUnavailable, "fetching %s: %v", href, err)
	}
	if !gzipped {
		return body, true, nil
	}

	gz, err := gzip.NewReader(newByteReader(body))
	if err != nil {
		return nil, false, errors.Wrap(err, "group data is not valid gzip")
	}
	defer gz.Close()
	plain, err := io.ReadAll(gz)
	if err != nil {
		return nil, false, errors.Wrap(err, "couldn't decompress group data")
	}
	return plain, true, nil
}

// ResolveMirrorList fetches a mirror list URL and returns its first usable
// line as the base URL to enumerate, matching yum's own mirrorlist
// convention of one candidate URL per line with blank lines and '#'
// comments ignored.
func ResolveMirrorList(client HTTPGetter, mirrorListURL string) (string, error) {
	body, err := fetchBytes(client, mirrorListURL)
	if err != nil {
		return "", errors.Wrapf(repospec.ErrSourceUnavailable, "fetching mirror list: %v", err)
	}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.TrimRight(line, "/"), nil
	}
	return "", errors.Wrap(repospec.ErrSourceUnavailable, "mirror list contained no candidate URLs")
}

// EnumerateLocal walks each of paths in order and returns one Package per
// *.rpm file whose path matches includeGlobs (when non-empty) and does not
// match excludeGlobs. Duplicate filenames across paths keep the first
// occurrence, matching "first path wins" precedence for local_dir sources
// with more than one directory listed.
func EnumerateLocal(paths []string, includeGlobs, excludeGlobs []string, includeSrc bool) ([]repospec.Package, error) {
	seen := make(map[string]bool)
	var packages []repospec.Package

	for _, root := range paths {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !strings.HasSuffix(path, ".rpm") {
				return nil
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				rel = filepath.Base(path)
			}
			if !matchesFilters(rel, includeGlobs, excludeGlobs) {
				return nil
			}
			name := filepath.Base(path)
			if seen[name] {
				return nil
			}
			seen[name] = true

			if !includeSrc && strings.HasSuffix(name, ".src.rpm") {
				return nil
			}

			nevra, ok := ParseNEVRAFilename(name)
			if !ok {
				return nil
			}
			if _, err := rpmhead.Read(path); err != nil {
				return nil
			}
			nevra.Size = info.Size()
			nevra.LocalPath = path
			packages = append(packages, nevra)
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(repospec.ErrSourceUnavailable, "walking %s: %v", root, err)
		}
	}

	sortPackages(packages)
	return packages, nil
}

func matchesFilters(rel string, includeGlobs, excludeGlobs []string) bool {
	for _, pattern := range excludeGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(includeGlobs) == 0 {
		return true
	}
	for _, pattern := range includeGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ParseNEVRAFilename decodes "name-version-release.arch.rpm" into a Package.
// Returns ok=false for filenames that don't follow the NEVRA convention.
func ParseNEVRAFilename(filename string) (repospec.Package, bool) {
	base := strings.TrimSuffix(filename, ".rpm")
	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return repospec.Package{}, false
	}
	arch := base[dot+1:]
	rest := base[:dot]

	lastDash := strings.LastIndex(rest, "-")
	if lastDash < 0 {
		return repospec.Package{}, false
	}
	release := rest[lastDash+1:]
	rest = rest[:lastDash]

	secondDash := strings.LastIndex(rest, "-")
	if secondDash < 0 {
		return repospec.Package{}, false
	}
	version := rest[secondDash+1:]
	name := rest[:secondDash]

	return repospec.Package{
		Name:     name,
		Version:  version,
		Release:  release,
		Arch:     arch,
		Filename: filename,
	}, true
}

// sortPackages orders packages lexicographically by name then filename,
// giving a deterministic enumeration order independent of upstream XML or
// filesystem directory order.
func sortPackages(packages []repospec.Package) {
	sort.Slice(packages, func(i, j int) bool {
		if packages[i].Name != packages[j].Name {
			return packages[i].Name < packages[j].Name
		}
		return packages[i].Filename < packages[j].Filename
	})
}

// ReduceNewestOnly collapses packages down to the highest EVR per
// name+arch, matching the newest_only option's intent of mirroring only the
// latest build of each package rather than every historical revision.
// Ties (identical EVR) keep the first entry encountered.
func ReduceNewestOnly(packages []repospec.Package) []repospec.Package {
	type key struct{ name, arch string }
	best := make(map[key]repospec.Package)
	order := make([]key, 0, len(packages))

	for _, p := range packages {
		k := key{p.Name, p.Arch}
		existing, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = p
			continue
		}
		if compareEVR(p, existing) > 0 {
			best[k] = p
		}
	}

	out := make([]repospec.Package, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sortPackages(out)
	return out
}

// compareEVR implements the rpm epoch:version-release comparison algorithm:
// epochs compare numerically, then version and release compare segment by
// segment, where each segment is either a run of digits (compared
// numerically) or a run of letters (compared lexically); a purely numeric
// segment always outranks a purely alphabetic one.
func compareEVR(a, b repospec.Package) int {
	if c := compareEpoch(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := rpmvercmp(a.Version, b.Version); c != 0 {
		return c
	}
	return rpmvercmp(a.Release, b.Release)
}

func compareEpoch(a, b string) int {
	if a == "" {
		a = "0"
	}
	if b == "" {
		b = "0"
	}
	return rpmvercmp(a, b)
}

func rpmvercmp(a, b string) int {
	for len(a) > 0 || len(b) > 0 {
		for len(a) > 0 && !isAlnum(a[0]) {
			a = a[1:]
		}
		for len(b) > 0 && !isAlnum(b[0]) {
			b = b[1:]
		}
		if len(a) == 0 && len(b) == 0 {
			break
		}
		if len(a) == 0 {
			return -1
		}
		if len(b) == 0 {
			return 1
		}

		var segA, segB string
		isNum := isDigit(a[0])
		if isNum {
			segA, a = splitWhile(a, isDigit)
			segB, b = splitWhile(b, isDigit)
		} else {
			segA, a = splitWhile(a, isAlpha)
			segB, b = splitWhile(b, isAlpha)
		}

		if segB == "" {
			// b ran out of this segment's character class entirely: a
			// numeric segment outranks the missing one, an alpha segment
			// loses to it (rpm treats alpha as older than any numeric bump).
			if isNum {
				return 1
			}
			return -1
		}

		if isNum {
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")
			if len(segA) != len(segB) {
				if len(segA) > len(segB) {
					return 1
				}
				return -1
			}
		}

		if segA != segB {
			return strings.Compare(segA, segB)
		}
	}
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) > 0:
		return 1
	default:
		return -1
	}
}

func splitWhile(s string, pred func(byte) bool) (string, string) {
	i := 0
	for i < len(s) && pred(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }

// byteReader is a tiny io.Reader over an in-memory byte slice, used to
// decode repomd/primary/group bytes that were already fetched in full.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
