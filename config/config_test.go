package config

import (
	"os"
	"testing"

	"github.com/clearlinux/yum-mirror-engine/repospec"
)

func TestParseSpecsBaseURL(t *testing.T) {
	doc := []byte(`
repos:
  - id: clear-main
    base_url: https://cdn.example.com/clear/main
    checksum: sha256
    link_type: hardlink
    newest_only: true
    version_template: "%Y%m%d"
`)
	specs, err := ParseSpecs(doc)
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs, want 1", len(specs))
	}
	s := specs[0]
	if s.ID != "clear-main" {
		t.Errorf("ID = %q", s.ID)
	}
	if s.Source.Kind != repospec.SourceBaseURL || s.Source.BaseURL != "https://cdn.example.com/clear/main" {
		t.Errorf("Source = %+v", s.Source)
	}
	if s.Checksum != repospec.ChecksumSHA256 || s.LinkType != repospec.LinkHardlink {
		t.Errorf("Checksum/LinkType = %q/%q", s.Checksum, s.LinkType)
	}
	if !s.NewestOnly {
		t.Error("expected NewestOnly to be true")
	}
}

func TestParseSpecsLocalDirs(t *testing.T) {
	doc := []byte(`
repos:
  - id: local
    local_dirs: ["/srv/rpms/a", "/srv/rpms/b"]
`)
	specs, err := ParseSpecs(doc)
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}
	if specs[0].Source.Kind != repospec.SourceLocalDir || len(specs[0].Source.LocalPaths) != 2 {
		t.Errorf("Source = %+v", specs[0].Source)
	}
}

func TestParseSpecsRejectsAmbiguousSource(t *testing.T) {
	doc := []byte(`
repos:
  - id: bad
    base_url: https://example.com/repo
    local_dirs: ["/srv/rpms"]
`)
	if _, err := ParseSpecs(doc); err == nil {
		t.Fatal("expected an error for a repo with two sources set")
	}
}

func TestParseSpecsRejectsInvalidRepoSpec(t *testing.T) {
	doc := []byte(`
repos:
  - id: ""
    base_url: https://example.com/repo
`)
	if _, err := ParseSpecs(doc); err == nil {
		t.Fatal("expected validation to reject an empty id")
	}
}

func TestParseSpecsExpandsEnv(t *testing.T) {
	os.Setenv("YUM_MIRROR_TEST_HOST", "cdn.internal.example.com")
	defer os.Unsetenv("YUM_MIRROR_TEST_HOST")

	doc := []byte(`
repos:
  - id: templated
    base_url: https://${YUM_MIRROR_TEST_HOST}/repo
`)
	specs, err := ParseSpecs(doc)
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}
	want := "https://cdn.internal.example.com/repo"
	if specs[0].Source.BaseURL != want {
		t.Errorf("BaseURL = %q, want %q", specs[0].Source.BaseURL, want)
	}
}

func TestLoadSpecsMissingFile(t *testing.T) {
	if _, err := LoadSpecs("/nonexistent/path/repos.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
