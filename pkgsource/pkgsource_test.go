package pkgsource

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/clearlinux/yum-mirror-engine/internal/rpmtest"
	"github.com/clearlinux/yum-mirror-engine/repospec"
)

func TestParseNEVRAFilename(t *testing.T) {
	pkg, ok := ParseNEVRAFilename("htop-3.2.2-1.x86_64.rpm")
	if !ok {
		t.Fatal("expected ParseNEVRAFilename to succeed")
	}
	if pkg.Name != "htop" || pkg.Version != "3.2.2" || pkg.Release != "1" || pkg.Arch != "x86_64" {
		t.Errorf("got %+v", pkg)
	}
}

func TestParseNEVRAFilenameRejectsMalformed(t *testing.T) {
	if _, ok := ParseNEVRAFilename("not-an-rpm-name"); ok {
		t.Fatal("expected malformed filename to be rejected")
	}
}

func TestRpmvercmp(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0.1", "1.0", 1},
		{"1.0a", "1.0", 1}, // an extra trailing segment makes the version newer
		{"2a", "2", 1},
		{"1.9", "1.10", -1},
		{"5.5p1", "5.5p2", -1},
		{"5.5p10", "5.5p1", 1},
	}
	for _, c := range cases {
		if got := rpmvercmp(c.a, c.b); sign(got) != sign(c.want) {
			t.Errorf("rpmvercmp(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func TestReduceNewestOnlyKeepsHighestEVR(t *testing.T) {
	packages := []repospec.Package{
		{Name: "foo", Arch: "x86_64", Version: "1.0", Release: "1"},
		{Name: "foo", Arch: "x86_64", Version: "2.0", Release: "1"},
		{Name: "foo", Arch: "x86_64", Version: "1.5", Release: "3"},
		{Name: "bar", Arch: "x86_64", Version: "1.0", Release: "1"},
	}
	reduced := ReduceNewestOnly(packages)
	if len(reduced) != 2 {
		t.Fatalf("expected 2 packages after reduction, got %d", len(reduced))
	}
	for _, p := range reduced {
		if p.Name == "foo" && p.Version != "2.0" {
			t.Errorf("expected foo to resolve to version 2.0, got %s", p.Version)
		}
	}
}

func TestEnumerateLocalFiltersAndDedupes(t *testing.T) {
	base := t.TempDir()
	mustWriteRPM(t, filepath.Join(base, "a-1.0-1.x86_64.rpm"), "a", "1.0", "1", "x86_64")
	mustWriteRPM(t, filepath.Join(base, "b-1.0-1.src.rpm"), "b", "1.0", "1", "src")
	mustWriteRPM(t, filepath.Join(base, "debug", "c-1.0-1.x86_64.rpm"), "c", "1.0", "1", "x86_64")

	packages, err := EnumerateLocal([]string{base}, nil, []string{"debug/**"}, false)
	if err != nil {
		t.Fatalf("EnumerateLocal: %v", err)
	}
	names := map[string]bool{}
	for _, p := range packages {
		names[p.Name] = true
	}
	if !names["a"] {
		t.Error("expected package 'a' to be enumerated")
	}
	if names["b"] {
		t.Error("expected src rpm 'b' to be excluded when includeSrc is false")
	}
	if names["c"] {
		t.Error("expected 'c' under debug/ to be excluded by the glob")
	}
}

func TestEnumerateLocalExcludesInvalidRpmContent(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "bogus-1.0-1.x86_64.rpm")
	if err := os.WriteFile(path, []byte("not actually an rpm"), 0644); err != nil {
		t.Fatal(err)
	}

	packages, err := EnumerateLocal([]string{base}, nil, nil, false)
	if err != nil {
		t.Fatalf("EnumerateLocal: %v", err)
	}
	for _, p := range packages {
		if p.Name == "bogus" {
			t.Fatal("expected file with invalid RPM content to be silently excluded")
		}
	}
}

func mustWriteRPM(t *testing.T, path, name, version, release, arch string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, rpmtest.Build(name, version, release, arch), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFetchGroupDataReturnsPublishedComps(t *testing.T) {
	const comps = `<comps><group><id>core</id></group></comps>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repodata/repomd.xml":
			w.Write([]byte(`<repomd><data type="group"><location href="repodata/comps.xml"/></data></repomd>`))
		case "/repodata/comps.xml":
			w.Write([]byte(comps))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, ok, err := FetchGroupData(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FetchGroupData: %v", err)
	}
	if !ok {
		t.Fatal("expected group data to be available")
	}
	if string(data) != comps {
		t.Errorf("got %q, want %q", data, comps)
	}
}

func TestFetchGroupDataUnavailableWhenRepomdHasNoGroupEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<repomd><data type="primary"><location href="repodata/primary.xml"/></data></repomd>`))
	}))
	defer srv.Close()

	_, ok, err := FetchGroupData(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FetchGroupData: %v", err)
	}
	if ok {
		t.Fatal("expected group data to be unavailable")
	}
}
