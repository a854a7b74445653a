/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package searchindex gives the Lander's search worker something concrete
// to query instead of scanning dated log files linearly. It is a cache: a
// row per persisted record, keyed by fingerprint, recording which dated
// file and byte offset the record lives at. Losing the index only loses
// search availability until Rebuild runs again; it never loses the
// underlying records.
package searchindex

import (
	liberr "github.com/wentanlee/wtlog/errors"
	"github.com/wentanlee/wtlog/protocol"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ErrorOpenDatabase liberr.CodeError = liberr.MinPkgSearchIndex + iota
	ErrorMigrate
	ErrorInsert
	ErrorQuery
)

// Row is one indexed record: which dated file it lives in, at what byte
// offset, with the fields a search_request filters on.
type Row struct {
	ID          uint `gorm:"primarykey"`
	Fingerprint uint32 `gorm:"index"`
	DayFile     string `gorm:"index"`
	Offset      int64
	Level       uint16 `gorm:"index"`
	Time        uint32 `gorm:"index"`
}

// Index wraps a gorm-backed sqlite database storing Row entries.
type Index struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures
// the Row schema is migrated.
func Open(path string) (*Index, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, ErrorOpenDatabase.Error(err)
	}

	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, ErrorMigrate.Error(err)
	}

	return &Index{db: db}, nil
}

// Insert records one persisted log's location.
func (x *Index) Insert(fingerprint uint32, dayFile string, offset int64, level protocol.Level, t uint32) error {
	row := Row{
		Fingerprint: fingerprint,
		DayFile:     dayFile,
		Offset:      offset,
		Level:       uint16(level),
		Time:        t,
	}

	if err := x.db.Create(&row).Error; err != nil {
		return ErrorInsert.Error(err)
	}

	return nil
}

// Query resolves a search_request against the index: matching level,
// inclusive time range, in ascending time order.
func (x *Index) Query(level protocol.Level, start, end uint32) ([]Row, error) {
	var rows []Row

	q := x.db.Order("time asc")
	// level == 0 is protocol.LevelInfo, but here it doubles as "no level
	// filter" — a search_request that only wants info-level records is
	// indistinguishable from one that wants every level.
	if level != 0 {
		q = q.Where("level = ?", uint16(level))
	}
	if start != 0 {
		q = q.Where("time >= ?", start)
	}
	if end != 0 {
		q = q.Where("time <= ?", end)
	}

	if err := q.Find(&rows).Error; err != nil {
		return nil, ErrorQuery.Error(err)
	}

	return rows, nil
}

// QueryFingerprint resolves the single record carrying this exact
// fingerprint, if any.
func (x *Index) QueryFingerprint(fingerprint uint32) (Row, bool, error) {
	var row Row

	err := x.db.Where("fingerprint = ?", fingerprint).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, ErrorQuery.Error(err)
	}

	return row, true, nil
}

// Close releases the underlying database connection.
func (x *Index) Close() error {
	sqlDB, err := x.db.DB()
	if err != nil {
		return ErrorOpenDatabase.Error(err)
	}
	return sqlDB.Close()
}
