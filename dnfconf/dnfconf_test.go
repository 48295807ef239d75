package dnfconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-ini/ini"
)

func TestWriteRepoFileCreatesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.repo")
	entries := []Entry{
		{Name: "clear-main", BaseURL: "file:///srv/mirror/clear/latest"},
		{Name: "clear-extra", BaseURL: "https://cdn.example.com/extra", GPGKey: "/etc/pki/extra.gpg"},
	}
	if err := WriteRepoFile(path, entries); err != nil {
		t.Fatalf("WriteRepoFile: %v", err)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatalf("ini.Load: %v", err)
	}
	main, err := cfg.GetSection("clear-main")
	if err != nil {
		t.Fatalf("GetSection(clear-main): %v", err)
	}
	if main.Key("baseurl").String() != "file:///srv/mirror/clear/latest" {
		t.Errorf("baseurl = %q", main.Key("baseurl").String())
	}
	if main.Key("gpgcheck").String() != "0" {
		t.Errorf("expected gpgcheck=0 for a key-less entry, got %q", main.Key("gpgcheck").String())
	}

	extra, err := cfg.GetSection("clear-extra")
	if err != nil {
		t.Fatalf("GetSection(clear-extra): %v", err)
	}
	if extra.Key("gpgcheck").String() != "1" || extra.Key("gpgkey").String() != "/etc/pki/extra.gpg" {
		t.Errorf("expected gpgcheck enabled with key set, got section %+v", extra.KeysHash())
	}
}

func TestUpsertRepoReplacesExistingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.repo")
	if err := WriteRepoFile(path, []Entry{{Name: "clear-main", BaseURL: "file:///old/path"}}); err != nil {
		t.Fatalf("WriteRepoFile: %v", err)
	}

	if err := UpsertRepo(path, Entry{Name: "clear-main", BaseURL: "file:///new/path"}); err != nil {
		t.Fatalf("UpsertRepo: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "/old/path") {
		t.Error("expected the old baseurl to be replaced")
	}
	if !strings.Contains(string(data), "/new/path") {
		t.Error("expected the new baseurl to be present")
	}
}

func TestUpsertRepoOnNonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.repo")
	if err := UpsertRepo(path, Entry{Name: "clear-main", BaseURL: "file:///srv/mirror"}); err != nil {
		t.Fatalf("UpsertRepo on a missing file: %v", err)
	}
}
