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

// Package fingerprint computes deterministic content fingerprints for
// directory trees and single files, per spec.md §4.2.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gravitational/trace"
)

// FileChunkSize is the streaming read size used for file fingerprints.
const FileChunkSize = 4096

// TreeStats summarizes a directory fingerprint: the digest plus the
// size and file-count figures the Change Detector stores alongside it.
type TreeStats struct {
	Fingerprint string
	SizeKB      int64
	FileCount   int
}

// entry is one line of the canonical byte stream hashed for a
// directory fingerprint: relative_path|size_bytes|mtime.
type entry struct {
	relPath string
	size    int64
	mtime   int64
}

// Directory computes the fingerprint of a directory tree by walking it
// with filepath.Walk, collecting one entry per regular file or symlink (stat'd,
// not followed), sorting entries lexicographically by relative path,
// and hashing the canonical "path|size|mtime\n" stream with SHA-256.
//
// Per-file stat errors are logged by the caller and skipped here; the
// enclosing directory is still fingerprinted with the files it could
// read (spec.md §4.3's walk-error tolerance).
func Directory(root string) (TreeStats, []error) {
	var entries []entry
	var warnings []error

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			warnings = append(warnings, trace.Wrap(err, "stat %v", path))
			// Skip this entry but keep walking the rest of the tree.
			if info != nil && info.IsDir() {
				return nil
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		// Regular files and symlinks are both eligible; symlinks are
		// stat'd via Lstat semantics below and never followed into.
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			warnings = append(warnings, trace.Wrap(relErr))
			return nil
		}
		rel = filepath.ToSlash(rel)
		rel = strings.TrimPrefix(rel, "/")

		fi := info
		if info.Mode()&os.ModeSymlink != 0 {
			lfi, lerr := os.Lstat(path)
			if lerr != nil {
				warnings = append(warnings, trace.Wrap(lerr, "lstat %v", path))
				return nil
			}
			fi = lfi
		}

		entries = append(entries, entry{
			relPath: rel,
			size:    fi.Size(),
			mtime:   fi.ModTime().Unix(),
		})
		return nil
	})
	if walkErr != nil {
		warnings = append(warnings, trace.Wrap(walkErr))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].relPath < entries[j].relPath
	})

	h := sha256.New()
	var totalBytes int64
	for _, e := range entries {
		fmt.Fprintf(h, "%v|%v|%v\n", e.relPath, e.size, e.mtime)
		totalBytes += e.size
	}

	return TreeStats{
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
		SizeKB:      totalBytes / 1024,
		FileCount:   len(entries),
	}, warnings
}

// File computes the SHA-256 fingerprint of a single file's raw bytes,
// streamed in FileChunkSize chunks.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, FileChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", trace.Wrap(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
