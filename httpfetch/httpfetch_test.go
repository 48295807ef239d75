package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFetchWritesFileAndReportsProgress(t *testing.T) {
	payload := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "pkg.rpm")
	f := &Fetcher{ChunkSize: 100}
	progress, result, err := f.Fetch(context.Background(), srv.URL, dst)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	var last int64
	count := 0
	for n := range progress {
		last = n
		count++
	}
	if last != int64(len(payload)) {
		t.Errorf("final progress = %d, want %d", last, len(payload))
	}
	if count == 0 {
		t.Error("expected at least one progress update")
	}
	if ferr := <-result; ferr != nil {
		t.Fatalf("expected a nil terminal result, got %v", ferr)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(data) != payload {
		t.Error("destination file content mismatch")
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("expected the .part file to be gone after completion")
	}
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := &Fetcher{}
	if _, _, err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "pkg.rpm")); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestFetchReportsCancellationOnResultChannel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	f := &Fetcher{}
	progress, result, err := f.Fetch(ctx, srv.URL, filepath.Join(t.TempDir(), "pkg.rpm"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	<-progress
	cancel()
	for range progress {
	}

	if ferr := <-result; ferr == nil {
		t.Fatal("expected a non-nil terminal result after cancellation")
	}
}
