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

package controller

import (
	"strings"

	batchv1 "k8s.io/api/batch/v1"

	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

// mapConditionToStatus translates a cluster-reported terminal
// JobCondition into a Registry Status, per spec.md §4.6's state
// machine: the condition's type name is used verbatim when it names a
// custom terminal phase (SuccessCriteriaMet, FailureTarget), and
// Complete/Failed otherwise.
func mapConditionToStatus(condition batchv1.JobCondition) registry.Status {
	switch condition.Type {
	case batchv1.JobComplete:
		return registry.StatusComplete
	case batchv1.JobFailed:
		return registry.StatusFailed
	}

	name := string(condition.Type)
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "success"):
		return registry.StatusSuccessCriteriaMet
	case strings.Contains(lower, "failuretarget"):
		return registry.StatusFailureTarget
	default:
		return registry.Status(name)
	}
}

// registryPatch builds the Patch a terminal event writes: the new
// status, an optional message, and logs. Logs is only set when logs is
// non-empty, so an empty fetch result (no pods or containers) does not
// clobber prior logs with ""; a log-fetch failure arrives here as the
// non-empty "Error retrieving logs" text and is stored in Logs.
func registryPatch(status registry.Status, message, logs string) registry.Patch {
	patch := registry.Patch{Status: &status}
	if message != "" {
		patch.Message = &message
	}
	if logs != "" {
		logsCopy := logs
		ptr := &logsCopy
		patch.Logs = &ptr
	}
	return patch
}
