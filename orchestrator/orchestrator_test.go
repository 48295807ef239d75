package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clearlinux/yum-mirror-engine/events"
	"github.com/clearlinux/yum-mirror-engine/repoengine"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/pkg/errors"
)

type fakeSyncer struct {
	id      string
	delay   time.Duration
	failErr error
	sink    events.ProgressSink
	mu      sync.Mutex
}

func (f *fakeSyncer) SetSink(sink events.ProgressSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

func (f *fakeSyncer) Sync(ctx context.Context) (repoengine.Summary, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return repoengine.Summary{}, ctx.Err()
		}
	}
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink.Notify(events.Event{RepoID: f.id, Action: events.ActionRepoInit, Count: 3})
	}
	if f.failErr != nil {
		if sink != nil {
			sink.Notify(events.Event{RepoID: f.id, Action: events.ActionRepoError, State: f.failErr.Error()})
		}
		return repoengine.Summary{}, f.failErr
	}
	if sink != nil {
		sink.Notify(events.Event{RepoID: f.id, Action: events.ActionRepoComplete})
	}
	return repoengine.Summary{RepoID: f.id, PackageCount: 3}, nil
}

func TestRunAllSucceed(t *testing.T) {
	var eventCount int32
	o := &Orchestrator{
		Engines: []Syncer{
			&fakeSyncer{id: "a"},
			&fakeSyncer{id: "b"},
			&fakeSyncer{id: "c"},
		},
		Parallelism: 2,
		Sink: events.ProgressSinkFunc(func(e events.Event) {
			atomic.AddInt32(&eventCount, 1)
		}),
	}

	result, err := o.Run(context.Background(), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RepoCount != 3 {
		t.Errorf("RepoCount = %d, want 3", result.RepoCount)
	}
	if result.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", result.ErrorCount)
	}
	if atomic.LoadInt32(&eventCount) == 0 {
		t.Error("expected events to reach the outer sink")
	}
}

func TestRunAggregatesErrors(t *testing.T) {
	o := &Orchestrator{
		Engines: []Syncer{
			&fakeSyncer{id: "good"},
			&fakeSyncer{id: "bad", failErr: errors.New("boom")},
		},
		Parallelism: 2,
	}

	result, err := o.Run(context.Background(), time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected an aggregate error")
	}
	if result.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", result.ErrorCount)
	}
}

func TestRunHonoursParallelismOfOne(t *testing.T) {
	o := &Orchestrator{
		Engines: []Syncer{
			&fakeSyncer{id: "a", delay: 10 * time.Millisecond},
			&fakeSyncer{id: "b", delay: 10 * time.Millisecond},
		},
		Parallelism: 1,
	}
	start := time.Now()
	if _, err := o.Run(context.Background(), start); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("expected serialized execution to take at least ~20ms with parallelism 1")
	}
}

func TestRunCancellationStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := &Orchestrator{
		Engines: []Syncer{
			&fakeSyncer{id: "a", delay: 50 * time.Millisecond},
		},
		Parallelism: 1,
	}

	_, err := o.Run(ctx, time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func TestSyncLocalOnlyRejectsNonLocalSpec(t *testing.T) {
	specs := []repospec.RepoSpec{
		{ID: "remote", Source: repospec.NewBaseURLSource("https://example.test/repo")},
	}
	if _, err := SyncLocalOnly(specs, t.TempDir()); err == nil {
		t.Fatal("expected SyncLocalOnly to reject a non-local source")
	}
}

func TestSyncLocalOnlySyncsEmptyLocalDir(t *testing.T) {
	base := t.TempDir()
	specs := []repospec.RepoSpec{
		{
			ID:       "empty",
			Source:   repospec.NewLocalDirSource(t.TempDir()),
			LinkType: repospec.LinkHardlink,
			Checksum: repospec.ChecksumSHA256,
		},
	}

	result, err := SyncLocalOnly(specs, base)
	if err != nil {
		t.Fatalf("SyncLocalOnly: %v", err)
	}
	if result.RepoCount != 1 || result.ErrorCount != 0 {
		t.Errorf("got %+v", result)
	}
}
