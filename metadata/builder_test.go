package metadata

import (
	"testing"

	"github.com/clearlinux/yum-mirror-engine/repospec"
)

func TestDigestHexSHA256(t *testing.T) {
	got := digestHex(repospec.ChecksumSHA256, []byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if len(got) != 64 {
		t.Fatalf("expected a 64-char hex sha256 digest, got %d chars: %q", len(got), got)
	}
	if got != want {
		t.Errorf("digestHex(sha256, %q) = %q, want %q", "hello", got, want)
	}
}

func TestDigestHexSHA1(t *testing.T) {
	got := digestHex(repospec.ChecksumSHA1, []byte("hello"))
	if len(got) != 40 {
		t.Fatalf("expected a 40-char hex sha1 digest, got %d chars: %q", len(got), got)
	}
}

func TestChecksumTypeName(t *testing.T) {
	if checksumTypeName(repospec.ChecksumSHA1) != "sha1" {
		t.Error("expected sha1")
	}
	if checksumTypeName(repospec.ChecksumSHA256) != "sha256" {
		t.Error("expected sha256")
	}
	if checksumTypeName("") != "sha256" {
		t.Error("expected sha256 as the default")
	}
}

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", 42: "42", 1234: "1234"}
	for in, want := range cases {
		if got := itoa(in); got != want {
			t.Errorf("itoa(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPercent(t *testing.T) {
	if got := percent(0, 0); got != "100" {
		t.Errorf("percent(0,0) = %q, want 100", got)
	}
	if got := percent(5, 10); got != "50" {
		t.Errorf("percent(5,10) = %q, want 50", got)
	}
}

func TestEmptyToZero(t *testing.T) {
	if emptyToZero("") != "0" {
		t.Error("expected empty epoch to become '0'")
	}
	if emptyToZero("2") != "2" {
		t.Error("expected non-empty epoch to pass through")
	}
}

func TestIsDirOfInterest(t *testing.T) {
	if !isDirOfInterest("/etc/foo") {
		t.Error("expected /etc/ paths to be of interest")
	}
	if isDirOfInterest("/usr/share/doc") {
		t.Error("expected /usr/share/doc to not be of interest")
	}
}

func TestToEntries(t *testing.T) {
	entries := toEntries([]string{"a", "b"})
	if len(entries) != 2 || entries[0].Name != "a" || entries[1].Name != "b" {
		t.Errorf("got %+v", entries)
	}
}
