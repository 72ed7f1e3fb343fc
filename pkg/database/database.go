// Copyright 2021 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"emperror.dev/errors"
	"github.com/go-logr/logr"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.Sentinel("record not found")
	// ErrDuplicate is returned when an insert hits a uniqueness constraint.
	ErrDuplicate = errors.Sentinel("record already exists")
)

type Config struct {
	// Path of the sqlite database file. ":memory:" is accepted for tests.
	Path string
	Log  logr.Logger
}

// Open opens the database and runs all pending migrations.
func (c *Config) Open() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(c.Path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}

	// sqlite allows a single writer. A one-connection pool serializes
	// concurrent units of work instead of surfacing SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "could not access connection pool")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, errors.Wrap(err, "could not migrate database")
	}

	c.Log.Info("database ready", "path", c.Path)
	return db, nil
}

// Close closes the underlying sql.DB of a gorm handle.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsDuplicate reports whether err is a uniqueness-constraint violation. Both
// the gorm translated error and the raw sqlite code are checked because
// raw-SQL statements bypass gorm's translation.
func IsDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
