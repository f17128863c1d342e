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

// Package registry implements the in-memory Status Registry of
// spec.md §4.7: a map of job_name to its latest JobStatus, with
// append-merge update semantics and per-job subscriber delivery.
package registry

import (
	"sync"
	"time"
)

// Status is a lifecycle phase name, per spec.md §3's status set.
type Status string

const (
	StatusCreated            Status = "Created"
	StatusRunning            Status = "Running"
	StatusComplete           Status = "Complete"
	StatusSuccessCriteriaMet Status = "SuccessCriteriaMet"
	StatusFailed             Status = "Failed"
	StatusFailureTarget      Status = "FailureTarget"
	StatusError              Status = "Error"
)

// IsTerminal reports whether status ends a job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusSuccessCriteriaMet, StatusFailed, StatusFailureTarget, StatusError:
		return true
	}
	return false
}

// JobStatus is the in-memory record for one job, per spec.md §3.
type JobStatus struct {
	JobName     string
	Status      Status
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	TotalTimeS  int64
	CLIArgs     []string
	OutputPath  string
	Logs        *string
}

// Patch carries the subset of fields an update call wants to change.
// A nil pointer field means "leave unchanged"; per spec.md §4.7, "no
// field is ever cleared by omission in a patch, only explicit nulls
// overwrite" — Logs uses a **string so an explicit nil can still clear
// it while a patch that never mentions Logs leaves it untouched.
type Patch struct {
	Status     *Status
	Message    *string
	CLIArgs    []string
	OutputPath *string
	Logs       **string
}

// Subscriber receives every JobStatus the Registry applies for its
// job_name, in application order.
type Subscriber interface {
	Deliver(status JobStatus)

	// Evict is called by the Registry, while holding its own lock,
	// when this Subscriber is superseded by a newly registered one for
	// the same job_name, or when the job's entry is removed. It must
	// not block.
	Evict()
}

// Registry is the process-local job-status map. Grounded on the
// teacher's own process-local status caches (lib/app, lib/status),
// which use a plain mutex rather than a third-party concurrent map —
// the same choice made here (see DESIGN.md).
type Registry struct {
	mu          sync.Mutex
	entries     map[string]JobStatus
	subscribers map[string]Subscriber
	clock       func() time.Time
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		entries:     make(map[string]JobStatus),
		subscribers: make(map[string]Subscriber),
		clock:       time.Now,
	}
}

// Create seeds a brand-new entry, the Created state a submit_single
// call writes immediately after create_job succeeds.
func (r *Registry) Create(jobName string, outputPath string, cliArgs []string) JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	status := JobStatus{
		JobName:    jobName,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
		OutputPath: outputPath,
		CLIArgs:    cliArgs,
	}
	r.entries[jobName] = status
	r.deliverLocked(jobName, status)
	return status
}

// Update applies patch to jobName's current entry (or a zero entry if
// none exists yet), per spec.md §4.7's append-merge algorithm, and
// delivers the result to the live subscriber if any.
func (r *Registry) Update(jobName string, patch Patch) JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.entries[jobName]
	current.JobName = jobName

	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.Message != nil {
		current.Message = *patch.Message
	}
	if patch.CLIArgs != nil {
		current.CLIArgs = patch.CLIArgs
	}
	if patch.OutputPath != nil {
		current.OutputPath = *patch.OutputPath
	}
	if patch.Logs != nil {
		current.Logs = *patch.Logs
	}

	current.UpdatedAt = r.clock()
	if !current.CreatedAt.IsZero() {
		current.TotalTimeS = int64(current.UpdatedAt.Sub(current.CreatedAt).Seconds())
	}

	r.entries[jobName] = current
	r.deliverLocked(jobName, current)
	return current
}

// Get returns the current snapshot for jobName, or (zero, false) if
// absent.
func (r *Registry) Get(jobName string) (JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.entries[jobName]
	return status, ok
}

// Remove deletes jobName's entry and its subscriber registration,
// used by stop(job_name). Any live subscriber is evicted first, per
// spec.md §4.6's "removes its Push Channel (closing it cleanly)".
func (r *Registry) Remove(jobName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscribers[jobName]; ok {
		sub.Evict()
	}
	delete(r.entries, jobName)
	delete(r.subscribers, jobName)
}

// Subscribe registers sub as the live subscriber for jobName,
// evicting any previously registered subscriber, per spec.md §4.9's
// "at most one live subscriber per job" invariant.
func (r *Registry) Subscribe(jobName string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.subscribers[jobName]; ok && previous != sub {
		previous.Evict()
	}
	r.subscribers[jobName] = sub
}

// Unsubscribe removes sub as jobName's subscriber, but only if sub is
// still the currently registered one (a later Subscribe call already
// evicted it).
func (r *Registry) Unsubscribe(jobName string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribers[jobName] == sub {
		delete(r.subscribers, jobName)
	}
}

func (r *Registry) deliverLocked(jobName string, status JobStatus) {
	sub, ok := r.subscribers[jobName]
	if !ok {
		return
	}
	sub.Deliver(status)
}
