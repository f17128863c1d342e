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

// Package changedetect walks the mission/subfolder tree, fingerprints
// each level, and diffs against the Catalog Store to produce
// worklists, per spec.md §4.3.
package changedetect

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/EPFL-ENAC/AddLidar-API/internal/catalog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/fingerprint"
)

const metacloudSuffix = ".metacloud"

// FolderWork is one worklist entry for the archive-batch recipe.
type FolderWork struct {
	FolderKey   string
	MissionKey  string
	Fingerprint string
	SizeKB      int64
	FileCount   int
	OutputPath  string
}

// ManifestWork is one worklist entry for the converter-batch recipe.
type ManifestWork struct {
	MissionKey   string
	Fingerprint  string
	ManifestPath string
	OutputPath   string
}

// Result is the outcome of one Scan: the two worklists plus any
// non-fatal warnings encountered while walking.
type Result struct {
	Folders   []FolderWork
	Manifests []ManifestWork
	Warnings  []error
}

// Detector implements spec.md §4.3's change-detection algorithm over a
// two-level mission/subfolder tree.
type Detector struct {
	store        *catalog.Store
	originalRoot string
	zipRoot      string
	viewerRoot   string
	dryRun       bool
	log          *logrus.Entry
}

// New builds a Detector rooted at originalRoot. zipRoot/viewerRoot
// compute FolderWork/ManifestWork output paths; dryRun suppresses
// Catalog mutation while still producing worklists.
func New(store *catalog.Store, originalRoot, zipRoot, viewerRoot string, dryRun bool, log *logrus.Entry) *Detector {
	return &Detector{
		store:        store,
		originalRoot: originalRoot,
		zipRoot:      zipRoot,
		viewerRoot:   viewerRoot,
		dryRun:       dryRun,
		log:          log,
	}
}

// Scan walks every mission and immediate subfolder under
// originalRoot, fingerprints each folder and each mission's one
// *.metacloud manifest (if any), and returns the worklists of entries
// needing processing per the three-clause decision rule.
func (d *Detector) Scan() (Result, error) {
	var result Result

	missions, err := readSubdirs(d.originalRoot)
	if err != nil {
		return result, err
	}

	for _, mission := range missions {
		missionResult, err := d.scanMission(mission)
		if err != nil {
			result.Warnings = append(result.Warnings, err)
			continue
		}
		result.Folders = append(result.Folders, missionResult.Folders...)
		result.Manifests = append(result.Manifests, missionResult.Manifests...)
		result.Warnings = append(result.Warnings, missionResult.Warnings...)
	}

	return result, nil
}

// ScanConcurrent is Scan with per-mission fingerprinting fanned out
// across a bounded worker pool, so filesystem enumeration and hashing
// for one mission's disk latency never blocks the next mission from
// starting. workers <= 0 falls back to sequential scanning.
func (d *Detector) ScanConcurrent(workers int) (Result, error) {
	if workers <= 0 {
		return d.Scan()
	}

	missions, err := readSubdirs(d.originalRoot)
	if err != nil {
		return Result{}, err
	}

	var (
		mu     sync.Mutex
		result Result
		g      errgroup.Group
		sem    = make(chan struct{}, workers)
	)

	for _, mission := range missions {
		mission := mission
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			missionResult, err := d.scanMission(mission)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Warnings = append(result.Warnings, err)
				return nil
			}
			result.Folders = append(result.Folders, missionResult.Folders...)
			result.Manifests = append(result.Manifests, missionResult.Manifests...)
			result.Warnings = append(result.Warnings, missionResult.Warnings...)
			return nil
		})
	}

	// g.Wait never returns a non-nil error: each goroutine records its
	// own failure as a Warning instead of aborting the whole scan.
	_ = g.Wait()
	return result, nil
}

// scanMission fingerprints every subfolder of one mission and, if at
// least one folder record exists, its *.metacloud manifest, per
// spec.md §4.3.
func (d *Detector) scanMission(mission string) (Result, error) {
	var result Result
	missionPath := filepath.Join(d.originalRoot, mission)

	folders, err := readSubdirs(missionPath)
	if err != nil {
		return result, err
	}

	hasFolder := false
	for _, folder := range folders {
		folderPath := filepath.Join(missionPath, folder)
		folderKey := mission + "/" + folder

		stats, warnings := fingerprint.Directory(folderPath)
		result.Warnings = append(result.Warnings, warnings...)

		outputPath := filepath.Join(d.zipRoot, folderKey+".tar.gz")

		needsWork, err := d.folderNeedsWork(folderKey, mission, stats, outputPath)
		if err != nil {
			result.Warnings = append(result.Warnings, err)
			continue
		}
		hasFolder = true
		if needsWork {
			result.Folders = append(result.Folders, FolderWork{
				FolderKey:   folderKey,
				MissionKey:  mission,
				Fingerprint: stats.Fingerprint,
				SizeKB:      stats.SizeKB,
				FileCount:   stats.FileCount,
				OutputPath:  outputPath,
			})
		}
	}

	if !hasFolder {
		// Only missions with at least one FolderRecord are considered
		// for a manifest, per spec.md §4.3 step 5.
		return result, nil
	}

	manifestPath, tieBreak, err := findMetacloud(missionPath)
	if err != nil {
		result.Warnings = append(result.Warnings, err)
		return result, nil
	}
	if manifestPath == "" {
		return result, nil
	}
	if tieBreak && d.log != nil {
		d.log.WithField("mission", mission).Warn("multiple .metacloud files found, using first in directory order")
	}

	fp, err := fingerprint.File(manifestPath)
	if err != nil {
		result.Warnings = append(result.Warnings, err)
		return result, nil
	}

	manifestOutput := filepath.Join(d.viewerRoot, mission)
	needsWork, err := d.missionNeedsWork(mission, fp, manifestOutput)
	if err != nil {
		result.Warnings = append(result.Warnings, err)
		return result, nil
	}
	if needsWork {
		result.Manifests = append(result.Manifests, ManifestWork{
			MissionKey:   mission,
			Fingerprint:  fp,
			ManifestPath: manifestPath,
			OutputPath:   manifestOutput,
		})
	}

	return result, nil
}

func (d *Detector) folderNeedsWork(folderKey, missionKey string, stats fingerprint.TreeStats, outputPath string) (bool, error) {
	if d.dryRun {
		existing, err := d.store.GetFolder(folderKey)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return true, nil
		}
		return existing.Fingerprint != stats.Fingerprint || existing.ProcessingStatus.NeedsProcessing(), nil
	}
	return d.store.UpsertOnChangeFolder(folderKey, missionKey, stats.Fingerprint, stats.SizeKB, stats.FileCount, outputPath)
}

func (d *Detector) missionNeedsWork(missionKey, fp, outputPath string) (bool, error) {
	if d.dryRun {
		existing, err := d.store.GetMission(missionKey)
		if err != nil {
			return false, err
		}
		if existing == nil {
			return true, nil
		}
		return existing.Fingerprint != fp || existing.ProcessingStatus.NeedsProcessing(), nil
	}
	return d.store.UpsertOnChangeMission(missionKey, fp, outputPath)
}

// readSubdirs returns the immediate subdirectory names of dir in the
// order os.ReadDir reports them (lexicographic by name), per spec.md
// §9's note that enumeration order is filesystem-defined but in
// practice stable under ReadDir.
func readSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// findMetacloud returns the path to the first *.metacloud file found
// directly under dir (non-recursive), whether more than one was
// found, and any read error.
func findMetacloud(dir string) (path string, tieBreak bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, err
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), metacloudSuffix) {
			count++
			if path == "" {
				path = filepath.Join(dir, e.Name())
			}
		}
	}
	return path, count > 1, nil
}
