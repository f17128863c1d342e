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

// Package config collects the named constants and settings structs
// shared by the scanner and orchestrator binaries.
package config

import (
	"time"

	"github.com/gravitational/trace"
)

const (
	// DefaultParallelism is the default cap on concurrently processed
	// worklist items within a single batch job.
	DefaultParallelism = 4

	// ArchiveBackoffLimit is the number of pod retries k8s allows
	// before marking an archive/converter batch job failed.
	ArchiveBackoffLimit = 3

	// SingleJobBackoffLimit is the number of pod retries allowed for a
	// single point-cloud processing job; zero means no retry.
	SingleJobBackoffLimit = 0

	// JobTTLAfterFinished is how long a finished job and its pods are
	// left around before Kubernetes garbage-collects them.
	JobTTLAfterFinished = 2 * time.Hour

	// CatalogBusyTimeout is the maximum time a Catalog Store call waits
	// on lock contention before surfacing a CatalogError.
	CatalogBusyTimeout = 10 * time.Second

	// BatchReconcileTTL is how long a folder/mission record may stay
	// running without a per-item Catalog update before
	// Controller.ReconcileBatch marks it failed, recovering from a
	// batch job container that crashed before its own post-step ran.
	BatchReconcileTTL = 2 * time.Hour

	// PushChannelIdleTimeout is how long a push channel waits for
	// client traffic before sending a keepalive ping.
	PushChannelIdleTimeout = 30 * time.Second

	// SingleJobCPURequest / SingleJobCPULimit / SingleJobMemRequestMiB /
	// SingleJobMemLimitMiB are the single-processor job's resource
	// requests and limits from spec.md §4.4.
	SingleJobCPURequest    = "500m"
	SingleJobCPULimit      = "1"
	SingleJobMemRequestMiB = "128Mi"
	SingleJobMemLimitMiB   = "256Mi"

	// DataVolumeName / OutputVolumeName are the volume names bound into
	// every job container.
	DataVolumeName   = "data-root"
	OutputVolumeName = "output-root"

	// DefaultNamespace is the Kubernetes namespace jobs are created in
	// when the caller does not specify one.
	DefaultNamespace = "default"
)

// VolumeMode selects how data_root/output_root are bound into job
// pods — a hostPath (the teacher's default for node-local state) or a
// PersistentVolumeClaim, per SPEC_FULL.md §9's original_source note on
// kubernetes_pvc.py.
type VolumeMode string

const (
	// VolumeModeHostPath binds the root paths as hostPath volumes.
	VolumeModeHostPath VolumeMode = "hostPath"
	// VolumeModePVC binds the root paths via PersistentVolumeClaims.
	VolumeModePVC VolumeMode = "pvc"
)

// Settings is the orchestrator/scanner's shared runtime configuration,
// populated from CLI flags in cmd/scanner and cmd/orchestrator.
type Settings struct {
	// OriginalRoot is the two-level mission/subfolder directory tree
	// the scanner fingerprints.
	OriginalRoot string
	// ZipRoot is where archive output tar.gz files land.
	ZipRoot string
	// ViewerRoot is where converter output trees land.
	ViewerRoot string
	// DBPath is the sqlite database file backing the Catalog Store.
	DBPath string
	// LogLevel is the logrus level name (debug, info, warn, error).
	LogLevel string
	// DryRun skips Catalog upserts while still emitting a worklist.
	DryRun bool
	// ExportOnly prints the worklist as JSON without submitting jobs.
	ExportOnly bool
	// MaxJobs caps the number of batch jobs submitted per scan tick.
	MaxJobs int
	// Parallelism caps in-job worklist concurrency.
	Parallelism int
	// Namespace is the Kubernetes namespace jobs are created in.
	Namespace string
	// VolumeMode selects hostPath or PVC-backed data/output volumes.
	VolumeMode VolumeMode
	// DataVolumeClaim / OutputVolumeClaim name the PVCs to bind when
	// VolumeMode is VolumeModePVC.
	DataVolumeClaim   string
	OutputVolumeClaim string
	// ContainerImage is the image every archive/converter/single-
	// processor job runs.
	ContainerImage string
	// Kubeconfig is the path to a kubeconfig file; empty uses
	// in-cluster config.
	Kubeconfig string
	// ListenAddr is the orchestrator HTTP server's bind address.
	ListenAddr string
	// PathPrefix is prepended to every orchestrator route.
	PathPrefix string
	// DeleteArtifactAfterDownload is opt-in and default off per
	// SPEC_FULL.md §9's resolution of the download-deletion open
	// question.
	DeleteArtifactAfterDownload bool
}

// CheckAndSetDefaults validates the fields required regardless of
// which binary is running and fills in defaults for optional ones,
// mirroring the teacher's CheckAndSetDefaults idiom
// (lib/app/hooks.Params.CheckAndSetDefaults). OriginalRoot/ZipRoot are
// scanner-only and are instead enforced by that binary's own
// kingpin.Flag(...).Required() registration.
func (s *Settings) CheckAndSetDefaults() error {
	if s.DBPath == "" {
		return trace.BadParameter("missing parameter DBPath")
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Parallelism <= 0 {
		s.Parallelism = DefaultParallelism
	}
	if s.MaxJobs <= 0 {
		s.MaxJobs = 1
	}
	if s.Namespace == "" {
		s.Namespace = DefaultNamespace
	}
	if s.VolumeMode == "" {
		s.VolumeMode = VolumeModeHostPath
	}
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.ContainerImage == "" {
		return trace.BadParameter("missing parameter ContainerImage")
	}
	return nil
}
