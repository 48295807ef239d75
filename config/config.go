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

// Package config loads a YAML document describing one or more mirrored
// repositories into validated repospec.RepoSpec values.
package config

import (
	"os"
	"reflect"

	"github.com/clearlinux/yum-mirror-engine/repospec"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the top-level shape of a repository config file: a list of
// repo entries under a "repos" key, each decoded into a yamlRepo before
// being converted to an immutable repospec.RepoSpec.
type Document struct {
	Repos []yamlRepo `yaml:"repos"`
}

type yamlRepo struct {
	ID string `yaml:"id"`

	BaseURL    string   `yaml:"base_url"`
	MirrorList string   `yaml:"mirrorlist"`
	LocalDirs  []string `yaml:"local_dirs"`

	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`

	Checksum string `yaml:"checksum"`
	LinkType string `yaml:"link_type"`

	Delete           bool `yaml:"delete"`
	CombinedMetadata bool `yaml:"combined_metadata"`

	VersionTemplate string `yaml:"version_template"`
	Stable          string `yaml:"stable"`

	Labels map[string]string `yaml:"labels"`

	NewestOnly bool     `yaml:"newest_only"`
	SrcPkgs    bool     `yaml:"src_pkgs"`
	GPGKeys    []string `yaml:"gpg_keys"`

	Workers int `yaml:"workers"`
}

// LoadSpecs reads filename as YAML and returns one validated RepoSpec per
// entry under "repos", in file order. Environment variable references of
// the form $NAME or ${NAME} are expanded in every string field before
// validation, matching the builder.conf convention this engine's teacher
// config format used for path substitution.
func LoadSpecs(filename string) ([]repospec.RepoSpec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(repospec.ErrConfigInvalid, err.Error())
	}
	return ParseSpecs(data)
}

// ParseSpecs decodes a YAML document already read into memory, expands
// environment variables, converts each entry to a repospec.RepoSpec, and
// validates the result.
func ParseSpecs(data []byte) ([]repospec.RepoSpec, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(repospec.ErrConfigInvalid, err.Error())
	}

	specs := make([]repospec.RepoSpec, 0, len(doc.Repos))
	seen := make(map[string]bool, len(doc.Repos))
	for i := range doc.Repos {
		expandEnv(&doc.Repos[i])
		spec, err := toRepoSpec(doc.Repos[i])
		if err != nil {
			return nil, err
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		friendly := repospec.Friendly(spec.ID)
		if seen[friendly] {
			return nil, errors.Wrapf(repospec.ErrConfigInvalid, "duplicate repo id %q", spec.ID)
		}
		seen[friendly] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

func toRepoSpec(r yamlRepo) (repospec.RepoSpec, error) {
	source, err := toSource(r)
	if err != nil {
		return repospec.RepoSpec{}, err
	}
	return repospec.RepoSpec{
		ID:               r.ID,
		Source:           source,
		IncludeGlobs:     r.IncludeGlobs,
		ExcludeGlobs:     r.ExcludeGlobs,
		Checksum:         repospec.Checksum(r.Checksum),
		LinkType:         repospec.LinkType(r.LinkType),
		Delete:           r.Delete,
		CombinedMetadata: r.CombinedMetadata,
		VersionTemplate:  r.VersionTemplate,
		Stable:           r.Stable,
		Labels:           r.Labels,
		NewestOnly:       r.NewestOnly,
		SrcPkgs:          r.SrcPkgs,
		GPGKeys:          r.GPGKeys,
		Workers:          r.Workers,
	}, nil
}

// toSource picks exactly one of base_url/mirrorlist/local_dirs; more than
// one set is a config error caught here rather than silently preferring
// one, since repospec.Source's zero value can't distinguish "unset" from
// "set to the empty string".
func toSource(r yamlRepo) (repospec.Source, error) {
	count := 0
	if r.BaseURL != "" {
		count++
	}
	if r.MirrorList != "" {
		count++
	}
	if len(r.LocalDirs) > 0 {
		count++
	}
	if count != 1 {
		return repospec.Source{}, errors.Wrapf(repospec.ErrConfigInvalid,
			"repo %q must set exactly one of base_url, mirrorlist, or local_dirs", r.ID)
	}
	switch {
	case r.BaseURL != "":
		return repospec.NewBaseURLSource(r.BaseURL), nil
	case r.MirrorList != "":
		return repospec.NewMirrorListSource(r.MirrorList), nil
	default:
		return repospec.NewLocalDirSource(r.LocalDirs...), nil
	}
}

// expandEnv walks every exported string and []string field of r via
// reflection, replacing $NAME/${NAME} references with the corresponding
// environment variable. Unset variables are left as literal text rather
// than erroring, since a config intended for multiple environments may
// reference variables only some of them define.
func expandEnv(r *yamlRepo) {
	v := reflect.ValueOf(r).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(os.ExpandEnv(f.String()))
		case reflect.Slice:
			if f.Type().Elem().Kind() != reflect.String {
				continue
			}
			for j := 0; j < f.Len(); j++ {
				elem := f.Index(j)
				elem.SetString(os.ExpandEnv(elem.String()))
			}
		}
	}
}
