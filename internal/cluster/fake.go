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

package cluster

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	batchv1 "k8s.io/api/batch/v1"
)

// FakeAdapter is an in-memory Adapter backed by caller-scripted
// JobEvent sequences, for Watcher Pool and Job Controller tests, per
// spec.md §9's note that tests substitute an in-memory fake for the
// cluster abstraction.
type FakeAdapter struct {
	mu        sync.Mutex
	jobs      map[string]*batchv1.Job
	deleted   map[string]bool
	scripts   map[string][]JobEvent
	pods      map[string][]Pod
	podLogs   map[string]string
	createErr map[string]error
}

// NewFakeAdapter builds an empty fake.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		jobs:      make(map[string]*batchv1.Job),
		deleted:   make(map[string]bool),
		scripts:   make(map[string][]JobEvent),
		pods:      make(map[string][]Pod),
		podLogs:   make(map[string]string),
		createErr: make(map[string]error),
	}
}

// ScriptEvents pre-loads the sequence of events WatchJobs delivers for
// a given job name.
func (f *FakeAdapter) ScriptEvents(name string, events []JobEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = events
}

// SetPods pre-loads the pods ListPods returns for a given job name.
func (f *FakeAdapter) SetPods(name string, pods []Pod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[name] = pods
}

// SetPodLog pre-loads the log ReadPodLog returns for a given pod.
func (f *FakeAdapter) SetPodLog(podName, log string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.podLogs[podName] = log
}

// FailNextCreate makes the next CreateJob for name return err.
func (f *FakeAdapter) FailNextCreate(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr[name] = err
}

func (f *FakeAdapter) CreateJob(ctx context.Context, namespace string, manifest *batchv1.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := manifest.Name
	if err, ok := f.createErr[name]; ok {
		delete(f.createErr, name)
		return "", err
	}
	if _, exists := f.jobs[name]; exists {
		return "", trace.AlreadyExists("job %v already exists", name)
	}
	cp := manifest.DeepCopy()
	cp.Namespace = namespace
	f.jobs[name] = cp
	return name, nil
}

func (f *FakeAdapter) DeleteJob(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.jobs[name]; !exists {
		return trace.NotFound("job %v not found", name)
	}
	delete(f.jobs, name)
	f.deleted[name] = true
	return nil
}

// WatchJobs replays the scripted events for name over a channel,
// closing it when exhausted or ctx is cancelled.
func (f *FakeAdapter) WatchJobs(ctx context.Context, namespace, name string) (<-chan JobEvent, error) {
	f.mu.Lock()
	events := append([]JobEvent{}, f.scripts[name]...)
	f.mu.Unlock()

	out := make(chan JobEvent)
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *FakeAdapter) ListPods(ctx context.Context, namespace, name string) ([]Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Pod{}, f.pods[name]...), nil
}

func (f *FakeAdapter) ReadPodLog(ctx context.Context, namespace, podName, containerName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.podLogs[podName], nil
}

// WasDeleted reports whether DeleteJob was ever called for name.
func (f *FakeAdapter) WasDeleted(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[name]
}

// JobExists reports whether name is still tracked (not yet deleted).
func (f *FakeAdapter) JobExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	return ok
}

var _ Adapter = (*FakeAdapter)(nil)
