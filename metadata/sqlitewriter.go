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

package metadata

import (
	"database/sql"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// sqliteWriter accumulates one of the three package tables (packages,
// filelist, or other) into a SQLite database file, mirroring createrepo's
// *.sqlite sidecar outputs. Schemas here are trimmed to the columns this
// engine actually populates rather than the full upstream createrepo_c
// schema, since nothing in this module reads them back.
type sqliteWriter struct {
	db   *sql.DB
	path string
	kind string // "primary", "filelists", or "other"
}

func openSQLiteWriter(path, kind string) (*sqliteWriter, error) {
	_ = os.Remove(path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	var schema string
	switch kind {
	case "primary":
		schema = `
			CREATE TABLE packages (
				pkgKey INTEGER PRIMARY KEY,
				pkgId TEXT, name TEXT, arch TEXT, version TEXT, epoch TEXT,
				release TEXT, summary TEXT, description TEXT, url TEXT,
				time_file INTEGER, time_build INTEGER,
				size_package INTEGER, size_installed INTEGER, size_archive INTEGER,
				location_href TEXT, rpm_license TEXT, rpm_vendor TEXT,
				rpm_group TEXT, rpm_sourcerpm TEXT
			);
			CREATE TABLE db_info (dbversion INTEGER, checksum TEXT);
		`
	case "filelists":
		schema = `
			CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT, version TEXT, epoch TEXT, release TEXT);
			CREATE TABLE filelist (pkgKey INTEGER, dirname TEXT, filenames TEXT, filetypes TEXT);
			CREATE TABLE db_info (dbversion INTEGER, checksum TEXT);
		`
	default: // other
		schema = `
			CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT, version TEXT, epoch TEXT, release TEXT);
			CREATE TABLE changelog (pkgKey INTEGER, author TEXT, date INTEGER, changelog TEXT);
			CREATE TABLE db_info (dbversion INTEGER, checksum TEXT);
		`
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "creating schema in %s", path)
	}

	if _, err := db.Exec("INSERT INTO db_info (dbversion, checksum) VALUES (?, '')", 10); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "seeding db_info in %s", path)
	}

	return &sqliteWriter{db: db, path: path, kind: kind}, nil
}

func (w *sqliteWriter) addPrimary(key int64, p primaryPackage, pkgid string) error {
	_, err := w.db.Exec(
		`INSERT INTO packages (pkgKey, pkgId, name, arch, version, epoch, release, summary,
			description, url, time_file, time_build, size_package, size_installed, size_archive,
			location_href, rpm_license, rpm_vendor, rpm_group, rpm_sourcerpm)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		key, pkgid, p.Name, p.Arch, p.Version.Ver, p.Version.Epoch, p.Version.Rel, p.Summary,
		p.Description, p.URL, p.Time.File, p.Time.Build, p.Size.Package, p.Size.Installed, p.Size.Archive,
		p.Location.Href, p.Format.License, p.Format.Vendor, p.Format.Group, p.Format.SourceRPM,
	)
	return errors.Wrap(err, "inserting primary row")
}

func (w *sqliteWriter) addFilelists(key int64, p filelistsPackage) error {
	if _, err := w.db.Exec(
		`INSERT INTO packages (pkgKey, pkgId, name, arch, version, epoch, release) VALUES (?,?,?,?,?,?,?)`,
		key, p.Pkgid, p.Name, p.Arch, p.Version.Ver, p.Version.Epoch, p.Version.Rel,
	); err != nil {
		return errors.Wrap(err, "inserting filelists package row")
	}
	for _, f := range p.Files {
		if _, err := w.db.Exec(
			`INSERT INTO filelist (pkgKey, dirname, filenames, filetypes) VALUES (?,?,?,?)`,
			key, "", f.Path, f.Type,
		); err != nil {
			return errors.Wrap(err, "inserting filelist row")
		}
	}
	return nil
}

func (w *sqliteWriter) addOther(key int64, p otherPackage) error {
	if _, err := w.db.Exec(
		`INSERT INTO packages (pkgKey, pkgId, name, arch, version, epoch, release) VALUES (?,?,?,?,?,?,?)`,
		key, p.Pkgid, p.Name, p.Arch, p.Version.Ver, p.Version.Epoch, p.Version.Rel,
	); err != nil {
		return errors.Wrap(err, "inserting other package row")
	}
	for _, c := range p.Changelog {
		if _, err := w.db.Exec(
			`INSERT INTO changelog (pkgKey, author, date, changelog) VALUES (?,?,?,?)`,
			key, c.Author, c.Date, c.Text,
		); err != nil {
			return errors.Wrap(err, "inserting changelog row")
		}
	}
	return nil
}

// stampChecksumAndClose writes the given digest (the caller passes the
// sibling .xml.gz file's compressed digest) into db_info and closes the
// database handle so it can be compressed.
func (w *sqliteWriter) stampChecksumAndClose(checksum string) error {
	if _, err := w.db.Exec("UPDATE db_info SET checksum = ?", checksum); err != nil {
		w.db.Close()
		return errors.Wrapf(err, "stamping checksum into %s", w.path)
	}
	return w.db.Close()
}
