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

// Package jobspec renders declarative cluster-job manifests from
// recipes (archive-batch, converter-batch, single-processor), per
// spec.md §4.4, and validates/translates PointCloudRequest bodies
// into CLI argument vectors per spec.md §6.
package jobspec

import (
	"strings"
	"time"

	"github.com/pborman/uuid"
)

// MakeJobName builds a job name from prefix and a nonce, the same
// shape lib/kubernetes/jobs.go uses for hook job names.
func MakeJobName(prefix string) string {
	return prefix + "-" + shortNonce()
}

// MakeBatchJobName builds the `<prefix>-<YYYYMMDDhhmmss>` batch job
// name from spec.md §4.4. now is passed in rather than read from the
// clock so callers stay deterministic in tests.
func MakeBatchJobName(prefix string, now time.Time) string {
	return prefix + "-" + now.UTC().Format("20060102150405")
}

// MakeSingleJobName builds the `job-<8-hex-nonce>` single-processor
// job name from spec.md §4.4.
func MakeSingleJobName() string {
	return "job-" + shortNonce()
}

func shortNonce() string {
	id := uuid.New()
	return strings.ReplaceAll(id, "-", "")[:8]
}

// UniqueFilename builds the `output_<32-hex>.bin` filename spec.md
// §4.4 requires every single-processor job to write to, globally
// unique and never reused.
func UniqueFilename() string {
	id := strings.ReplaceAll(uuid.New(), "-", "")
	return "output_" + id + ".bin"
}
