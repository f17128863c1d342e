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

// Package cluster abstracts the cluster backend behind the interface
// the Job Controller and Watcher Pool consume, per spec.md §4.5.
package cluster

import (
	"context"
	"time"

	batchv1 "k8s.io/api/batch/v1"
)

// JobEvent is one push update from WatchJobs, per spec.md §4.5.
type JobEvent struct {
	Name        string
	Phase       string
	Conditions  []batchv1.JobCondition
	ActiveCount int32
	Start       *time.Time
	Completion  *time.Time
}

// Pod is the subset of pod state the Job Controller and Watcher Pool
// need: its name and per-container state, enough to pick a container
// to stream logs from without depending on corev1 outside the k8s
// backend.
type Pod struct {
	Name       string
	Phase      string
	Containers []ContainerStatus
}

// ContainerStatus names a pod container and whether it is currently
// running, so callers can decide when to start streaming its logs.
type ContainerStatus struct {
	Name    string
	Running bool
}

// Adapter is the cluster abstraction of spec.md §4.5: any backend
// (a real k8s.io/client-go client, or the in-memory fake used by
// tests) that satisfies it works with the Job Controller unchanged.
type Adapter interface {
	// CreateJob submits manifest and returns the server-assigned name.
	// Fails with a trace.AlreadyExists-classified error on name
	// collision.
	CreateJob(ctx context.Context, namespace string, manifest *batchv1.Job) (string, error)

	// DeleteJob is best-effort; trace.IsNotFound(err) is non-fatal for
	// callers.
	DeleteJob(ctx context.Context, namespace, name string) error

	// WatchJobs streams JobEvents for jobs matching name in namespace
	// until ctx is cancelled or the server closes the connection.
	// Callers must handle both.
	WatchJobs(ctx context.Context, namespace, name string) (<-chan JobEvent, error)

	// ListPods returns the pods matching the job-name=name selector.
	ListPods(ctx context.Context, namespace, name string) ([]Pod, error)

	// ReadPodLog returns the full log of one pod container.
	ReadPodLog(ctx context.Context, namespace, podName, containerName string) (string, error)
}
