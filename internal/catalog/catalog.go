/*
Copyright 2025 EPFL-ENAC.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package catalog implements the durable folder/mission state store
// described in spec.md §3-4.1: a journaled sqlite database mapping
// folder_key -> FolderRecord and mission_key -> MissionMetacloudRecord.
package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gravitational/trace"
	// Imported for its database/sql driver registration side effect,
	// the same way estuary-flow's go/flow/builds.go pulls it in.
	_ "github.com/mattn/go-sqlite3"
)

// Store is the Catalog Store of spec.md §4.1: a durable, atomic,
// WAL-journaled mapping of folder_key/mission_key to their records.
type Store struct {
	db            *sql.DB
	busyTimeout   time.Duration
	clockOverride func() int64
}

// Open opens (creating if absent) the sqlite database at path in WAL
// journal mode with the given busy timeout, and ensures the schema
// exists.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err, "opening catalog database")
	}
	// sqlite3 serializes writers internally; a single open connection
	// keeps Go's pool from issuing concurrent writes that would only
	// bounce off SQLITE_BUSY and re-enter our own retry loop.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "initializing catalog schema")
	}

	return &Store{db: db, busyTimeout: busyTimeout}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

func (s *Store) now() int64 {
	if s.clockOverride != nil {
		return s.clockOverride()
	}
	return time.Now().Unix()
}

// withRetry runs fn, retrying on transient SQLITE_BUSY-style
// contention with an exponential backoff bounded by the store's busy
// timeout, per spec.md §4.1's failure semantics. Permanent errors
// (anything else, including schema-open failures) are returned
// immediately.
func (s *Store) withRetry(fn func() error) error {
	interval := backoff.NewExponentialBackOff()
	interval.MaxElapsedTime = s.busyTimeout

	return trace.Wrap(backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, interval))
}

func isBusyError(err error) bool {
	// go-sqlite3 surfaces contention as a message containing "database
	// is locked" or "busy"; avoid importing the driver's error type
	// directly so a future driver swap (e.g. modernc.org/sqlite) only
	// needs this one predicate updated.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// GetFolder returns the FolderRecord for key, or (nil, nil) if absent.
func (s *Store) GetFolder(key string) (*FolderRecord, error) {
	var rec FolderRecord
	var lastProcessed, processingTime sql.NullInt64
	var errMsg sql.NullString

	err := s.withRetry(func() error {
		row := s.db.QueryRow(`SELECT folder_key, mission_key, fp, size_kb, file_count,
			last_checked, last_processed, processing_time, processing_status,
			error_message, output_path FROM folder_state WHERE folder_key = ?`, key)
		return row.Scan(&rec.FolderKey, &rec.MissionKey, &rec.Fingerprint, &rec.SizeKB,
			&rec.FileCount, &rec.LastCheckedEpoch, &lastProcessed, &processingTime,
			&rec.ProcessingStatus, &errMsg, &rec.OutputPath)
	})
	if trace.Unwrap(err) == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rec.LastProcessedEpoch = lastProcessed.Int64
	rec.ProcessingTimeS = processingTime.Int64
	rec.ErrorMessage = errMsg.String
	return &rec, nil
}

// UpsertOnChangeFolder inserts or updates a folder record. It resets
// last_processed and sets processing_status to pending whenever the
// fingerprint changed or the existing status warrants reprocessing,
// per spec.md §4.1/§4.3's decision rule. new fields' SizeKB/FileCount/
// OutputPath are always applied.
func (s *Store) UpsertOnChangeFolder(key, missionKey, newFingerprint string, sizeKB int64, fileCount int, outputPath string) (needsReset bool, err error) {
	err = s.withRetry(func() error {
		tx, txErr := s.db.Begin()
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		var existingFP string
		var existingStatus ProcessingStatus
		row := tx.QueryRow(`SELECT fp, processing_status FROM folder_state WHERE folder_key = ?`, key)
		scanErr := row.Scan(&existingFP, &existingStatus)

		now := s.now()
		switch {
		case scanErr == sql.ErrNoRows:
			needsReset = true
			_, execErr := tx.Exec(`INSERT INTO folder_state
				(folder_key, mission_key, fp, size_kb, file_count, last_checked,
				 last_processed, processing_time, processing_status, error_message, output_path)
				VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, NULL, ?)`,
				key, missionKey, newFingerprint, sizeKB, fileCount, now, StatusPending, outputPath)
			if execErr != nil {
				return execErr
			}
		case scanErr != nil:
			return scanErr
		default:
			needsReset = existingFP != newFingerprint || existingStatus.NeedsProcessing()
			if needsReset {
				_, execErr := tx.Exec(`UPDATE folder_state SET mission_key = ?, fp = ?,
					size_kb = ?, file_count = ?, last_checked = ?, last_processed = NULL,
					processing_time = NULL, processing_status = ?, error_message = NULL,
					output_path = ? WHERE folder_key = ?`,
					missionKey, newFingerprint, sizeKB, fileCount, now, StatusPending, outputPath, key)
				if execErr != nil {
					return execErr
				}
			} else {
				_, execErr := tx.Exec(`UPDATE folder_state SET mission_key = ?, fp = ?,
					size_kb = ?, file_count = ?, last_checked = ?, output_path = ?
					WHERE folder_key = ?`,
					missionKey, newFingerprint, sizeKB, fileCount, now, outputPath, key)
				if execErr != nil {
					return execErr
				}
			}
		}
		return tx.Commit()
	})
	return needsReset, trace.Wrap(err)
}

// MarkFolderRunning transitions a folder record to running.
func (s *Store) MarkFolderRunning(key string) error {
	return trace.Wrap(s.withRetry(func() error {
		_, err := s.db.Exec(`UPDATE folder_state SET processing_status = ? WHERE folder_key = ?`,
			StatusRunning, key)
		return err
	}))
}

// MarkFolderTerminal transitions a folder record to complete or
// failed, recording elapsed processing time and an optional error.
func (s *Store) MarkFolderTerminal(key string, status ProcessingStatus, elapsedS int64, errMsg string) error {
	if status != StatusComplete && status != StatusFailed {
		return trace.BadParameter("terminal status must be complete or failed, got %v", status)
	}
	now := s.now()
	return trace.Wrap(s.withRetry(func() error {
		var nullErr sql.NullString
		if errMsg != "" {
			nullErr = sql.NullString{String: errMsg, Valid: true}
		}
		_, err := s.db.Exec(`UPDATE folder_state SET processing_status = ?,
			last_processed = ?, processing_time = ?, error_message = ? WHERE folder_key = ?`,
			status, now, elapsedS, nullErr, key)
		return err
	}))
}

// ListFoldersByStatus returns every folder record with the given
// status.
func (s *Store) ListFoldersByStatus(status ProcessingStatus) ([]FolderRecord, error) {
	return s.queryFolders(`SELECT folder_key, mission_key, fp, size_kb, file_count,
		last_checked, last_processed, processing_time, processing_status,
		error_message, output_path FROM folder_state WHERE processing_status = ? ORDER BY folder_key`, status)
}

// ListFoldersByMission returns every folder record belonging to the
// given mission.
func (s *Store) ListFoldersByMission(missionKey string) ([]FolderRecord, error) {
	return s.queryFolders(`SELECT folder_key, mission_key, fp, size_kb, file_count,
		last_checked, last_processed, processing_time, processing_status,
		error_message, output_path FROM folder_state WHERE mission_key = ? ORDER BY folder_key`, missionKey)
}

// ListFoldersByKeyPrefix returns every folder record whose folder_key
// starts with prefix, backing GET /catalog/folders/{subpath}.
func (s *Store) ListFoldersByKeyPrefix(prefix string) ([]FolderRecord, error) {
	return s.queryFolders(`SELECT folder_key, mission_key, fp, size_kb, file_count,
		last_checked, last_processed, processing_time, processing_status,
		error_message, output_path FROM folder_state WHERE folder_key LIKE ? ORDER BY folder_key`,
		prefix+"%")
}

// ListFoldersAll returns a page of folder records ordered by
// folder_key.
func (s *Store) ListFoldersAll(limit, offset int) ([]FolderRecord, error) {
	return s.queryFolders(`SELECT folder_key, mission_key, fp, size_kb, file_count,
		last_checked, last_processed, processing_time, processing_status,
		error_message, output_path FROM folder_state ORDER BY folder_key LIMIT ? OFFSET ?`,
		limit, offset)
}

func (s *Store) queryFolders(query string, args ...interface{}) ([]FolderRecord, error) {
	var out []FolderRecord
	err := s.withRetry(func() error {
		out = nil
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec FolderRecord
			var lastProcessed, processingTime sql.NullInt64
			var errMsg sql.NullString
			if err := rows.Scan(&rec.FolderKey, &rec.MissionKey, &rec.Fingerprint, &rec.SizeKB,
				&rec.FileCount, &rec.LastCheckedEpoch, &lastProcessed, &processingTime,
				&rec.ProcessingStatus, &errMsg, &rec.OutputPath); err != nil {
				return err
			}
			rec.LastProcessedEpoch = lastProcessed.Int64
			rec.ProcessingTimeS = processingTime.Int64
			rec.ErrorMessage = errMsg.String
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, trace.Wrap(err)
}
