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

// Package watcher implements the Watcher Pool of spec.md §4.8: one
// background goroutine per tracked job, streaming cluster events into
// the Status Registry until a terminal condition or a cooperative
// stop signal.
package watcher

import (
	"context"
	"strings"
	"sync"

	batchv1 "k8s.io/api/batch/v1"

	"github.com/sirupsen/logrus"

	"github.com/EPFL-ENAC/AddLidar-API/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

// TerminalHandler is invoked once, from the watcher's own goroutine,
// when a job reaches a cluster-reported terminal condition. It is
// responsible for fetching logs, finalising the Catalog record, and
// deleting the cluster job — the Job Controller's reconciliation
// logic (spec.md §4.6).
type TerminalHandler func(ctx context.Context, jobName string, condition batchv1.JobCondition)

// Pool owns at most one Watcher goroutine per job_name, grounded on
// lib/app/hooks.Runner's goroutine-per-hook model. Each Watcher opens
// its watch once and does not re-open it: if the event stream ends
// without a terminal condition, the Watcher exits and leaves the
// job's Registry entry as it was.
type Pool struct {
	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	adapter  cluster.Adapter
	registry *registry.Registry
	log      *logrus.Entry
}

// NewPool builds an empty Watcher Pool bound to adapter and reg.
func NewPool(adapter cluster.Adapter, reg *registry.Registry, log *logrus.Entry) *Pool {
	return &Pool{
		cancels:  make(map[string]context.CancelFunc),
		adapter:  adapter,
		registry: reg,
		log:      log,
	}
}

// Start spawns a Watcher for jobName in namespace. Registering a new
// Watcher for an already-tracked name signals the previous one to
// stop first, per spec.md §4.8's "at most one Watcher per job_name".
func (p *Pool) Start(namespace, jobName string, onTerminal TerminalHandler) {
	p.Stop(jobName)

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancels[jobName] = cancel
	p.mu.Unlock()

	go p.run(ctx, namespace, jobName, onTerminal)
}

// Stop signals jobName's Watcher (if any) to stop cooperatively.
func (p *Pool) Stop(jobName string) {
	p.mu.Lock()
	cancel, ok := p.cancels[jobName]
	delete(p.cancels, jobName)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pool) run(ctx context.Context, namespace, jobName string, onTerminal TerminalHandler) {
	defer func() {
		p.mu.Lock()
		// A cancelled Watcher was already untracked by Stop, and its
		// name may now belong to a newer Watcher.
		if ctx.Err() == nil {
			delete(p.cancels, jobName)
		}
		p.mu.Unlock()
	}()

	events, err := p.adapter.WatchJobs(ctx, namespace, jobName)
	if err != nil {
		p.markError(jobName, err)
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.ActiveCount >= 1 {
				running := registry.StatusRunning
				p.registry.Update(jobName, registry.Patch{Status: &running})
			}
			if terminal := findTerminalCondition(event.Conditions); terminal != nil {
				onTerminal(ctx, jobName, *terminal)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) markError(jobName string, err error) {
	status := registry.StatusError
	msg := err.Error()
	if p.log != nil {
		p.log.WithField("job_name", jobName).WithError(err).Warn("watcher failed to start")
	}
	p.registry.Update(jobName, registry.Patch{Status: &status, Message: &msg})
}

// findTerminalCondition returns the first JobComplete or JobFailed
// condition with status "True", mirroring
// lib/app/hooks/hooks.go's findSuccess/findFailure.
func findTerminalCondition(conditions []batchv1.JobCondition) *batchv1.JobCondition {
	for i := range conditions {
		c := conditions[i]
		if c.Status != "True" {
			continue
		}
		if c.Type == batchv1.JobComplete || c.Type == batchv1.JobFailed {
			return &c
		}
		if isTerminalTypeName(string(c.Type)) {
			return &c
		}
	}
	return nil
}

// isTerminalTypeName recognises the SuccessCriteriaMet/FailureTarget
// condition type names spec.md §4.6 adds beyond plain
// Complete/Failed, for clusters that report custom job conditions.
func isTerminalTypeName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "success") || strings.Contains(lower, "failuretarget")
}
