package rpmhead

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/clearlinux/yum-mirror-engine/repospec"
)

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "does-not-exist.rpm"))
	if err == nil {
		t.Fatal("expected an error reading a missing file")
	}
}

func TestReadFromRejectsGarbage(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader([]byte("not an rpm at all")))
	if err == nil {
		t.Fatal("expected an error decoding non-RPM bytes")
	}
	if !errors.Is(err, repospec.ErrNotAnRpm) && !errors.Is(err, repospec.ErrTruncatedRpm) {
		t.Fatalf("expected NotAnRpm or TruncatedRpm, got %v", err)
	}
}

func TestReadFromRejectsTruncatedStream(t *testing.T) {
	// A handful of zero bytes is shorter than even the fixed-size RPM
	// lead, so this must surface as a truncation (or not-an-RPM) error, not
	// a tag problem.
	_, err := ReadFrom(bytes.NewReader(make([]byte, 4)))
	if err == nil {
		t.Fatal("expected an error decoding a short stream")
	}
	if !errors.Is(err, repospec.ErrNotAnRpm) && !errors.Is(err, repospec.ErrTruncatedRpm) {
		t.Fatalf("expected NotAnRpm or TruncatedRpm, got %v", err)
	}
}

func TestItoa(t *testing.T) {
	cases := map[int64]string{
		0:    "0",
		7:    "7",
		42:   "42",
		-13:  "-13",
		1001: "1001",
	}
	for in, want := range cases {
		if got := itoa(in); got != want {
			t.Errorf("itoa(%d) = %q, want %q", in, got, want)
		}
	}
}
