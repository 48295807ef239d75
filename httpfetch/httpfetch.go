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

// Package httpfetch is the default events.PackageFetcher: a plain
// net/http download into a temp file beside the destination, renamed into
// place once complete so a crash mid-download never leaves a truncated
// file at the final path.
package httpfetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Fetcher downloads over HTTP(S) using Client, defaulting to
// http.DefaultClient when nil.
type Fetcher struct {
	Client *http.Client

	// ChunkSize controls how many bytes are copied between progress
	// reports; zero uses a sane default.
	ChunkSize int64
}

const defaultChunkSize = 256 * 1024

// Fetch implements events.PackageFetcher. It streams url into destPath via
// a "destPath.part" sibling, reporting cumulative bytes written on the
// returned progress channel. progress closes when the download finishes or
// fails; result (buffered) receives exactly one value just before that
// close - nil on success, the terminal error otherwise - so a caller that
// drains progress and then reads result can tell a completed download from
// one that died mid-stream.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) (<-chan int64, <-chan error, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, errors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	partPath := destPath + ".part"
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		resp.Body.Close()
		return nil, nil, err
	}
	out, err := os.Create(partPath)
	if err != nil {
		resp.Body.Close()
		return nil, nil, err
	}

	progress := make(chan int64, 1)
	result := make(chan error, 1)
	go func() {
		defer close(progress)
		defer resp.Body.Close()
		defer out.Close()

		var total int64
		buf := make([]byte, chunk)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					os.Remove(partPath)
					result <- errors.Wrap(werr, "writing downloaded bytes")
					return
				}
				total += int64(n)
				select {
				case progress <- total:
				case <-ctx.Done():
					os.Remove(partPath)
					result <- ctx.Err()
					return
				}
			}
			if rerr == io.EOF {
				if cerr := out.Close(); cerr != nil {
					os.Remove(partPath)
					result <- errors.Wrap(cerr, "closing downloaded file")
					return
				}
				if rerr := os.Rename(partPath, destPath); rerr != nil {
					result <- errors.Wrap(rerr, "renaming downloaded file into place")
					return
				}
				result <- nil
				return
			}
			if rerr != nil {
				os.Remove(partPath)
				result <- errors.Wrap(rerr, "reading response body")
				return
			}
		}
	}()

	return progress, result, nil
}
