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

import "os"

// VerifyReport summarizes the result of a catalog consistency pass,
// the Go equivalent of check_db.py's manual audit queries: rows whose
// recorded output_path no longer exists on disk, and rows stuck in
// running past a restart (orphaned by a crashed orchestrator).
type VerifyReport struct {
	MissingOutputFolders    []string
	MissingOutputMissions   []string
	OrphanedRunningFolders  []string
	OrphanedRunningMissions []string
}

// Verify scans every complete record with a non-empty output_path and
// flags ones whose artifact is missing, plus every record left in
// running (implying the orchestrator that owned it exited without
// reconciling). It never mutates the catalog; callers decide whether
// to requeue orphaned entries.
func (s *Store) Verify() (VerifyReport, error) {
	var report VerifyReport

	complete, err := s.ListFoldersByStatus(StatusComplete)
	if err != nil {
		return report, err
	}
	for _, rec := range complete {
		if rec.OutputPath == "" {
			continue
		}
		if _, statErr := os.Stat(rec.OutputPath); os.IsNotExist(statErr) {
			report.MissingOutputFolders = append(report.MissingOutputFolders, rec.FolderKey)
		}
	}

	completeMissions, err := s.ListMissionsByStatus(StatusComplete)
	if err != nil {
		return report, err
	}
	for _, rec := range completeMissions {
		if rec.OutputPath == "" {
			continue
		}
		if _, statErr := os.Stat(rec.OutputPath); os.IsNotExist(statErr) {
			report.MissingOutputMissions = append(report.MissingOutputMissions, rec.MissionKey)
		}
	}

	running, err := s.ListFoldersByStatus(StatusRunning)
	if err != nil {
		return report, err
	}
	for _, rec := range running {
		report.OrphanedRunningFolders = append(report.OrphanedRunningFolders, rec.FolderKey)
	}

	runningMissions, err := s.ListMissionsByStatus(StatusRunning)
	if err != nil {
		return report, err
	}
	for _, rec := range runningMissions {
		report.OrphanedRunningMissions = append(report.OrphanedRunningMissions, rec.MissionKey)
	}

	return report, nil
}
