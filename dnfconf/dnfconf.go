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

// Package dnfconf writes DNF/YUM ".repo" files pointing consumers at the
// directories a sync just populated, so a synced tree is immediately usable
// as a local repo without any additional tooling.
package dnfconf

import (
	"fmt"

	"github.com/go-ini/ini"
)

// Entry describes one [section] this package writes into a .repo file.
type Entry struct {
	Name    string
	BaseURL string // e.g. "file:///srv/mirror/clear/latest" or a remote URL
	GPGKey  string // absolute path or URL to a GPG key; empty disables gpgcheck
}

// WriteRepoFile creates or replaces path with one [Name] section per entry,
// each enabled and prioritized in the order given.
func WriteRepoFile(path string, entries []Entry) error {
	cfg := ini.Empty()
	for i, e := range entries {
		sec, err := cfg.NewSection(e.Name)
		if err != nil {
			return fmt.Errorf("dnfconf: adding section %q: %w", e.Name, err)
		}
		if _, err := sec.NewKey("name", e.Name); err != nil {
			return err
		}
		if _, err := sec.NewKey("baseurl", e.BaseURL); err != nil {
			return err
		}
		if _, err := sec.NewKey("enabled", "1"); err != nil {
			return err
		}
		if _, err := sec.NewKey("priority", itoa(i+1)); err != nil {
			return err
		}
		if e.GPGKey != "" {
			if _, err := sec.NewKey("gpgcheck", "1"); err != nil {
				return err
			}
			if _, err := sec.NewKey("gpgkey", e.GPGKey); err != nil {
				return err
			}
		} else {
			if _, err := sec.NewKey("gpgcheck", "0"); err != nil {
				return err
			}
		}
	}
	return cfg.SaveTo(path)
}

// UpsertRepo adds or replaces a single [name] section in an existing (or
// not-yet-existing) .repo file at path, leaving every other section alone.
func UpsertRepo(path string, e Entry) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return err
	}
	cfg.DeleteSection(e.Name)
	sec, err := cfg.NewSection(e.Name)
	if err != nil {
		return err
	}
	if _, err := sec.NewKey("name", e.Name); err != nil {
		return err
	}
	if _, err := sec.NewKey("baseurl", e.BaseURL); err != nil {
		return err
	}
	if _, err := sec.NewKey("enabled", "1"); err != nil {
		return err
	}
	if e.GPGKey != "" {
		if _, err := sec.NewKey("gpgcheck", "1"); err != nil {
			return err
		}
		if _, err := sec.NewKey("gpgkey", e.GPGKey); err != nil {
			return err
		}
	} else {
		if _, err := sec.NewKey("gpgcheck", "0"); err != nil {
			return err
		}
	}
	return cfg.SaveTo(path)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
