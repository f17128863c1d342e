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

package catalog

import (
	"database/sql"

	"github.com/gravitational/trace"
)

// GetMission returns the MissionMetacloudRecord for key, or (nil, nil)
// if absent.
func (s *Store) GetMission(key string) (*MissionMetacloudRecord, error) {
	var rec MissionMetacloudRecord
	var lastProcessed, processingTime sql.NullInt64
	var errMsg sql.NullString

	err := s.withRetry(func() error {
		row := s.db.QueryRow(`SELECT mission_key, fp, output_path, last_checked,
			last_processed, processing_time, processing_status, error_message
			FROM potree_metacloud_state WHERE mission_key = ?`, key)
		return row.Scan(&rec.MissionKey, &rec.Fingerprint, &rec.OutputPath,
			&rec.LastCheckedEpoch, &lastProcessed, &processingTime,
			&rec.ProcessingStatus, &errMsg)
	})
	if trace.Unwrap(err) == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.LastProcessedEpoch = lastProcessed.Int64
	rec.ProcessingTimeS = processingTime.Int64
	rec.ErrorMessage = errMsg.String
	return &rec, nil
}

// UpsertOnChangeMission inserts or updates a mission metacloud record,
// applying the same fingerprint-or-prior-status reset rule as
// UpsertOnChangeFolder.
func (s *Store) UpsertOnChangeMission(key, newFingerprint, outputPath string) (needsReset bool, err error) {
	err = s.withRetry(func() error {
		tx, txErr := s.db.Begin()
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		var existingFP string
		var existingStatus ProcessingStatus
		row := tx.QueryRow(`SELECT fp, processing_status FROM potree_metacloud_state WHERE mission_key = ?`, key)
		scanErr := row.Scan(&existingFP, &existingStatus)

		now := s.now()
		switch {
		case scanErr == sql.ErrNoRows:
			needsReset = true
			_, execErr := tx.Exec(`INSERT INTO potree_metacloud_state
				(mission_key, fp, output_path, last_checked, last_processed,
				 processing_time, processing_status, error_message)
				VALUES (?, ?, ?, ?, NULL, NULL, ?, NULL)`,
				key, newFingerprint, outputPath, now, StatusPending)
			if execErr != nil {
				return execErr
			}
		case scanErr != nil:
			return scanErr
		default:
			needsReset = existingFP != newFingerprint || existingStatus.NeedsProcessing()
			if needsReset {
				_, execErr := tx.Exec(`UPDATE potree_metacloud_state SET fp = ?,
					output_path = ?, last_checked = ?, last_processed = NULL,
					processing_time = NULL, processing_status = ?, error_message = NULL
					WHERE mission_key = ?`,
					newFingerprint, outputPath, now, StatusPending, key)
				if execErr != nil {
					return execErr
				}
			} else {
				_, execErr := tx.Exec(`UPDATE potree_metacloud_state SET fp = ?,
					output_path = ?, last_checked = ? WHERE mission_key = ?`,
					newFingerprint, outputPath, now, key)
				if execErr != nil {
					return execErr
				}
			}
		}
		return tx.Commit()
	})
	return needsReset, err
}

// MarkMissionRunning transitions a mission record to running.
func (s *Store) MarkMissionRunning(key string) error {
	return s.withRetry(func() error {
		_, err := s.db.Exec(`UPDATE potree_metacloud_state SET processing_status = ? WHERE mission_key = ?`,
			StatusRunning, key)
		return err
	})
}

// MarkMissionTerminal transitions a mission record to complete or
// failed, recording elapsed processing time and an optional error.
func (s *Store) MarkMissionTerminal(key string, status ProcessingStatus, elapsedS int64, errMsg string) error {
	now := s.now()
	return s.withRetry(func() error {
		var nullErr sql.NullString
		if errMsg != "" {
			nullErr = sql.NullString{String: errMsg, Valid: true}
		}
		_, err := s.db.Exec(`UPDATE potree_metacloud_state SET processing_status = ?,
			last_processed = ?, processing_time = ?, error_message = ? WHERE mission_key = ?`,
			status, now, elapsedS, nullErr, key)
		return err
	})
}

// ListMissionsByStatus returns every mission record with the given
// status.
func (s *Store) ListMissionsByStatus(status ProcessingStatus) ([]MissionMetacloudRecord, error) {
	return s.queryMissions(`SELECT mission_key, fp, output_path, last_checked,
		last_processed, processing_time, processing_status, error_message
		FROM potree_metacloud_state WHERE processing_status = ? ORDER BY mission_key`, status)
}

// ListMissionsAll returns a page of mission records ordered by
// mission_key.
func (s *Store) ListMissionsAll(limit, offset int) ([]MissionMetacloudRecord, error) {
	return s.queryMissions(`SELECT mission_key, fp, output_path, last_checked,
		last_processed, processing_time, processing_status, error_message
		FROM potree_metacloud_state ORDER BY mission_key LIMIT ? OFFSET ?`, limit, offset)
}

func (s *Store) queryMissions(query string, args ...interface{}) ([]MissionMetacloudRecord, error) {
	var out []MissionMetacloudRecord
	err := s.withRetry(func() error {
		out = nil
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec MissionMetacloudRecord
			var lastProcessed, processingTime sql.NullInt64
			var errMsg sql.NullString
			if err := rows.Scan(&rec.MissionKey, &rec.Fingerprint, &rec.OutputPath,
				&rec.LastCheckedEpoch, &lastProcessed, &processingTime,
				&rec.ProcessingStatus, &errMsg); err != nil {
				return err
			}
			rec.LastProcessedEpoch = lastProcessed.Int64
			rec.ProcessingTimeS = processingTime.Int64
			rec.ErrorMessage = errMsg.String
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}
