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

// Package orchestrator runs many repoengine.Engine syncs concurrently,
// aggregating their progress events onto a single sink and supporting
// cooperative cancellation across the whole run.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/clearlinux/yum-mirror-engine/events"
	"github.com/clearlinux/yum-mirror-engine/repoengine"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/pkg/errors"
)

// Syncer is the subset of repoengine.Engine the orchestrator drives; tests
// substitute a fake to exercise aggregation and cancellation without doing
// real network or filesystem work.
type Syncer interface {
	Sync(ctx context.Context) (repoengine.Summary, error)
}

// Orchestrator fans out N repository syncs across a bounded pool of P
// concurrent tasks, forwarding every event onto a single sink and holding
// the only mutable aggregate counters.
type Orchestrator struct {
	Engines     []Syncer
	Sink        events.ProgressSink
	Parallelism int
}

// Aggregate is the set of counters the supervisor maintains as events
// arrive, in addition to forwarding each event verbatim to the sink.
type Aggregate struct {
	mu        sync.Mutex
	TotalPkgs int
	DonePkgs  int
	MDTotal   int
	MDDone    int
	Errors    []string
}

func (a *Aggregate) observe(e events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch e.Action {
	case events.ActionRepoInit:
		a.TotalPkgs += e.Count
	case events.ActionPkgExists, events.ActionDownloadEnd, events.ActionLinkLocalPkg:
		a.DonePkgs++
	case events.ActionRepoMetadata:
		if e.State == "building" {
			a.MDTotal++
		} else if e.State == "complete" {
			a.MDDone++
		}
	case events.ActionRepoError:
		a.Errors = append(a.Errors, e.RepoID+": "+e.State)
	}
}

// snapshot returns a copy of the counters for Result reporting.
func (a *Aggregate) snapshot() (errs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Errors...)
}

// Result is the outcome of a full orchestrated run.
type Result struct {
	RepoCount  int
	ErrorCount int
	Elapsed    time.Duration
}

// Run drives every engine to completion (or until ctx is cancelled),
// returning once all tasks have finished or been cancelled. Each engine
// runs in its own goroutine from a pool bounded by Parallelism; events flow
// into a single channel this function drains, forwarding to Sink and
// updating Aggregate as they arrive.
func (o *Orchestrator) Run(ctx context.Context, start time.Time) (Result, error) {
	parallelism := o.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	agg := &Aggregate{}
	eventCh := make(chan events.Event, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range eventCh {
			agg.observe(e)
			if o.Sink != nil {
				o.Sink.Notify(e)
			}
		}
	}()
	sink := events.ProgressSinkFunc(func(e events.Event) { eventCh <- e })

	tasks := make(chan Syncer)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	worker := func() {
		defer wg.Done()
		for eng := range tasks {
			if withSink, ok := eng.(interface{ SetSink(events.ProgressSink) }); ok {
				withSink.SetSink(sink)
			}
			if _, err := eng.Sync(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}
	}

	wg.Add(parallelism)
	for i := 0; i < parallelism; i++ {
		go worker()
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for _, eng := range o.Engines {
			select {
			case tasks <- eng:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-dispatchDone
	close(tasks)
	wg.Wait()
	close(eventCh)
	<-drained

	result := Result{
		RepoCount:  len(o.Engines),
		ErrorCount: len(agg.snapshot()),
		Elapsed:    time.Since(start),
	}

	if ctx.Err() != nil {
		return result, errors.Wrap(ctx.Err(), "sync cancelled")
	}
	if len(errs) > 0 {
		return result, errors.Errorf("%d of %d repositories failed to sync", len(errs), len(o.Engines))
	}
	return result, nil
}

// SyncLocalOnly mirrors a batch of already-local repositories without ever
// touching the network: no mirror list resolution, no GPG key download,
// just restaging from local_dir and rebuilding metadata. It matches the
// original module-level localsync() convenience, for callers who maintain
// their own local package trees and only want this engine's metadata and
// version-link machinery.
func SyncLocalOnly(specs []repospec.RepoSpec, base string) (Result, error) {
	engines := make([]Syncer, len(specs))
	for i, spec := range specs {
		if !spec.Source.IsLocal() {
			return Result{}, errors.Errorf("%s: SyncLocalOnly requires a local_dir source", spec.ID)
		}
		spec.GPGKeys = nil // local-only: never download keys
		engines[i] = &repoengine.Engine{Spec: spec, Base: base}
	}

	o := &Orchestrator{Engines: engines, Parallelism: len(engines)}
	return o.Run(context.Background(), time.Now())
}
