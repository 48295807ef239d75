package fsops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/pkg/errors"
)

func TestEnsureDirCreatesNested(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "a", "b", "c")
	if err := EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist as a directory", target)
	}
}

func TestPlaceSymlinkCreatesAndIsIdempotent(t *testing.T) {
	base := t.TempDir()
	targetFile := filepath.Join(base, "real")
	if err := os.WriteFile(targetFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "nested", "link")

	changed, err := PlaceSymlink(link, targetFile)
	if err != nil {
		t.Fatalf("PlaceSymlink: %v", err)
	}
	if !changed {
		t.Fatal("expected first PlaceSymlink to report a change")
	}
	got, err := os.Readlink(link)
	if err != nil || got != targetFile {
		t.Fatalf("Readlink = %q, %v; want %q", got, err, targetFile)
	}

	changed, err = PlaceSymlink(link, targetFile)
	if err != nil {
		t.Fatalf("PlaceSymlink (second call): %v", err)
	}
	if changed {
		t.Fatal("expected second PlaceSymlink with same target to report no change")
	}
}

func TestPlaceSymlinkReplacesExistingTarget(t *testing.T) {
	base := t.TempDir()
	oldTarget := filepath.Join(base, "old")
	newTarget := filepath.Join(base, "new")
	link := filepath.Join(base, "link")

	if _, err := PlaceSymlink(link, oldTarget); err != nil {
		t.Fatal(err)
	}
	changed, err := PlaceSymlink(link, newTarget)
	if err != nil {
		t.Fatalf("PlaceSymlink (replace): %v", err)
	}
	if !changed {
		t.Fatal("expected replacing the link target to report a change")
	}
	got, _ := os.Readlink(link)
	if got != newTarget {
		t.Fatalf("Readlink = %q, want %q", got, newTarget)
	}
}

func TestPlaceSymlinkConflictsWithRegularFile(t *testing.T) {
	base := t.TempDir()
	link := filepath.Join(base, "occupied")
	if err := os.WriteFile(link, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := PlaceSymlink(link, filepath.Join(base, "target"))
	if !errors.Is(err, repospec.ErrFsConflict) {
		t.Fatalf("expected ErrFsConflict, got %v", err)
	}
}

func TestPlaceHardlinkCreatesAndIsIdempotent(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(base, "nested", "dst")

	changed, err := PlaceHardlink(src, dst)
	if err != nil {
		t.Fatalf("PlaceHardlink: %v", err)
	}
	if !changed {
		t.Fatal("expected first PlaceHardlink to report a change")
	}
	srcDev, srcIno, err := deviceAndInode(src)
	if err != nil {
		t.Fatal(err)
	}
	dstDev, dstIno, err := deviceAndInode(dst)
	if err != nil {
		t.Fatal(err)
	}
	if srcDev != dstDev || srcIno != dstIno {
		t.Fatal("expected src and dst to share the same inode after hardlinking")
	}

	changed, err = PlaceHardlink(src, dst)
	if err != nil {
		t.Fatalf("PlaceHardlink (second call): %v", err)
	}
	if changed {
		t.Fatal("expected second PlaceHardlink to report no change")
	}
}

func TestPlaceHardlinkRequiresSourceToExist(t *testing.T) {
	base := t.TempDir()
	_, err := PlaceHardlink(filepath.Join(base, "missing"), filepath.Join(base, "dst"))
	if err == nil {
		t.Fatal("expected an error when src does not exist")
	}
}
