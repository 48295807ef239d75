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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clearlinux/yum-mirror-engine/config"
	"github.com/clearlinux/yum-mirror-engine/dnfconf"
	"github.com/clearlinux/yum-mirror-engine/events"
	"github.com/clearlinux/yum-mirror-engine/httpfetch"
	yumlog "github.com/clearlinux/yum-mirror-engine/log"
	"github.com/clearlinux/yum-mirror-engine/orchestrator"
	"github.com/clearlinux/yum-mirror-engine/repoengine"
	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/spf13/cobra"
)

var syncFlags = struct {
	base        string
	parallelism int
	repoFile    string
}{}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every repository in the config file",
	Long: `Sync reads the repository config file and mirrors each entry into
base/<friendly-id>/, rebuilding metadata and updating latest/stable/label
symlinks. Repositories sync concurrently, bounded by --parallelism.`,
	RunE: runSync,
}

func init() {
	RootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVar(&syncFlags.base, "base", "./mirror", "base directory repositories are synced under")
	syncCmd.Flags().IntVarP(&syncFlags.parallelism, "parallelism", "p", 4, "number of repositories to sync concurrently")
	syncCmd.Flags().StringVar(&syncFlags.repoFile, "repo-file", "", "write a DNF .repo file listing every synced repository's latest link here")
}

func runSync(cmd *cobra.Command, args []string) error {
	specs, err := config.LoadSpecs(configFile)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		yumlog.Warning(yumlog.Sync, "no repositories found in %s", configFile)
		return nil
	}

	sink := events.ProgressSinkFunc(logEvent)
	fetcher := &httpfetch.Fetcher{Client: http.DefaultClient}

	engines := make([]orchestrator.Syncer, len(specs))
	for i, spec := range specs {
		engines[i] = &repoengine.Engine{
			Spec:    spec,
			Base:    syncFlags.base,
			Fetcher: fetcher,
			Getter:  http.DefaultClient,
			Sink:    sink,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(cancel)

	o := &orchestrator.Orchestrator{
		Engines:     engines,
		Sink:        sink,
		Parallelism: syncFlags.parallelism,
	}
	result, err := o.Run(ctx, time.Now())
	fmt.Printf("synced %d repositories in %s (%d errors)\n", result.RepoCount, result.Elapsed, result.ErrorCount)
	if err != nil {
		return err
	}

	if syncFlags.repoFile != "" {
		if rerr := writeRepoFile(specs); rerr != nil {
			return rerr
		}
	}
	return nil
}

// writeRepoFile emits one [section] per repo pointing at its "latest" link
// (or the repository directory itself, for unversioned repos), so the freshly synced
// tree is immediately consumable by dnf/yum.
func writeRepoFile(specs []repospec.RepoSpec) error {
	entries := make([]dnfconf.Entry, len(specs))
	for i, spec := range specs {
		dir := fmt.Sprintf("%s/%s", syncFlags.base, repospec.Friendly(spec.ID))
		target := dir + "/latest"
		if spec.VersionTemplate == "" {
			target = dir
		}
		var gpgKey string
		if len(spec.GPGKeys) > 0 {
			gpgKey = dir + "/" + filepath.Base(spec.GPGKeys[0])
		}
		entries[i] = dnfconf.Entry{
			Name:    repospec.Friendly(spec.ID),
			BaseURL: "file://" + target,
			GPGKey:  gpgKey,
		}
	}
	return dnfconf.WriteRepoFile(syncFlags.repoFile, entries)
}

// installSignalHandler cancels ctx on SIGINT/SIGTERM: in-flight downloads
// abort mid-transfer, no further packages are staged, and Run returns once
// every running sync has stopped.
func installSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		yumlog.Warning(yumlog.Sync, "received %s, cancelling in-flight syncs", sig)
		cancel()
	}()
}

func logEvent(e events.Event) {
	switch e.Action {
	case events.ActionRepoError:
		yumlog.Error(yumlog.Sync, "%s: %s", e.RepoID, e.State)
	case events.ActionRepoComplete:
		yumlog.Info(yumlog.Sync, "%s: complete", e.RepoID)
	case events.ActionDownloadUpdate:
	default:
		yumlog.Debug(yumlog.Sync, "%s: %s %s", e.RepoID, e.Action, e.Name)
	}
}
