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

// Package controller implements the Job Controller of spec.md §4.6:
// the coupling layer between change detection / request intake and
// the cluster, owning job submission and terminal-state reconciliation.
package controller

import (
	"context"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/EPFL-ENAC/AddLidar-API/internal/catalog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/changedetect"
	"github.com/EPFL-ENAC/AddLidar-API/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar-API/internal/jobspec"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
	"github.com/EPFL-ENAC/AddLidar-API/internal/watcher"
)

// Controller couples job submission (single or batch) with the
// Status Registry, the Watcher Pool, and the Catalog Store, grounded
// on lib/app/hooks.Runner.Start/StreamLogs/DeleteJob generalized from
// "one hook job, wait til done" to "one job, async watcher, Registry
// updates".
type Controller struct {
	adapter  cluster.Adapter
	store    *catalog.Store
	registry *registry.Registry
	watchers *watcher.Pool
	opts     jobspec.BuildOptions
	log      *logrus.Entry
	clock    func() time.Time
}

// New builds a Controller bound to the given cluster adapter, catalog
// store, status registry, and job-build options.
func New(adapter cluster.Adapter, store *catalog.Store, reg *registry.Registry, opts jobspec.BuildOptions, log *logrus.Entry) *Controller {
	return &Controller{
		adapter:  adapter,
		store:    store,
		registry: reg,
		watchers: watcher.NewPool(adapter, reg, log),
		opts:     opts,
		log:      log,
		clock:    time.Now,
	}
}

// SubmitSingle builds the single-processor job spec, assigns its
// unique_filename, submits it, writes a Created Registry entry, and
// starts a Watcher. It returns promptly after create_job succeeds —
// it does not wait for completion, per spec.md §4.6.
func (c *Controller) SubmitSingle(ctx context.Context, cliArgs []string) (jobName string, err error) {
	job, outputPath, err := jobspec.BuildSingleJob(c.opts, cliArgs)
	if err != nil {
		return "", err
	}

	name, err := c.adapter.CreateJob(ctx, c.opts.Namespace, job)
	if err != nil {
		// Create failure: return error to caller, no Registry entry
		// written, per spec.md §4.6's failure semantics.
		return "", err
	}

	c.registry.Create(name, outputPath, cliArgs)
	c.watchers.Start(c.opts.Namespace, name, c.onSingleTerminal)
	return name, nil
}

// SubmitBatch builds one archive-batch or converter-batch job spanning
// every item in the worklist, submits it, and transitions each item's
// Catalog record from pending to running. Per-item completion is
// reported by the job's own post-step (spec.md §4.4); the Controller
// does not wait for it here.
func (c *Controller) SubmitBatch(ctx context.Context, recipe jobspec.Recipe, items []jobspec.BatchItem, parallelism int, itemCommand func(jobspec.BatchItem) string) (jobName string, err error) {
	job, err := jobspec.BuildBatchJob(recipe, c.opts, items, parallelism, itemCommand, c.clock())
	if err != nil {
		return "", err
	}

	name, err := c.adapter.CreateJob(ctx, c.opts.Namespace, job)
	if err != nil {
		return "", err
	}

	for _, item := range items {
		if recipe == jobspec.RecipeConverterBatch {
			if markErr := c.store.MarkMissionRunning(item.Key); markErr != nil && c.log != nil {
				c.log.WithField("mission_key", item.Key).WithError(markErr).Warn("failed to mark mission running")
			}
			continue
		}
		if markErr := c.store.MarkFolderRunning(item.Key); markErr != nil && c.log != nil {
			c.log.WithField("folder_key", item.Key).WithError(markErr).Warn("failed to mark folder running")
		}
	}

	return name, nil
}

// BatchItemsFromFolderWork adapts a Change Detector folder worklist
// into jobspec.BatchItem values for an archive-batch job.
func BatchItemsFromFolderWork(originalRoot string, work []changedetect.FolderWork) []jobspec.BatchItem {
	items := make([]jobspec.BatchItem, 0, len(work))
	for _, w := range work {
		items = append(items, jobspec.BatchItem{
			Key:        w.FolderKey,
			SourcePath: originalRoot + "/" + w.FolderKey,
			OutputPath: w.OutputPath,
		})
	}
	return items
}

// BatchItemsFromManifestWork adapts a Change Detector manifest
// worklist into jobspec.BatchItem values for a converter-batch job.
func BatchItemsFromManifestWork(work []changedetect.ManifestWork) []jobspec.BatchItem {
	items := make([]jobspec.BatchItem, 0, len(work))
	for _, w := range work {
		items = append(items, jobspec.BatchItem{
			Key:        w.MissionKey,
			SourcePath: w.ManifestPath,
			OutputPath: w.OutputPath,
		})
	}
	return items
}

// ReconcileBatch re-checks every folder/mission Catalog record still
// running past ttl and marks it failed, recovering a batch job item
// whose container crashed before its own per-item post-step update
// reached the Catalog, per spec.md §9's reconciliation note on
// SubmitBatch's otherwise-authoritative in-container updates.
func (c *Controller) ReconcileBatch(ttl time.Duration) error {
	cutoff := c.clock().Add(-ttl).Unix()
	const reconcileMessage = "batch reconciliation: exceeded job TTL without a terminal update"

	folders, err := c.store.ListFoldersByStatus(catalog.StatusRunning)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if f.LastCheckedEpoch > cutoff {
			continue
		}
		if err := c.store.MarkFolderTerminal(f.FolderKey, catalog.StatusFailed, 0, reconcileMessage); err != nil && c.log != nil {
			c.log.WithField("folder_key", f.FolderKey).WithError(err).Warn("failed to reconcile stale running folder")
		}
	}

	missions, err := c.store.ListMissionsByStatus(catalog.StatusRunning)
	if err != nil {
		return err
	}
	for _, m := range missions {
		if m.LastCheckedEpoch > cutoff {
			continue
		}
		if err := c.store.MarkMissionTerminal(m.MissionKey, catalog.StatusFailed, 0, reconcileMessage); err != nil && c.log != nil {
			c.log.WithField("mission_key", m.MissionKey).WithError(err).Warn("failed to reconcile stale running mission")
		}
	}

	return nil
}

// Stop deletes the cluster job, cancels its Watcher, removes its
// Registry entry, and removes its output artifact if present. It is
// idempotent and safe to call on an already-terminal or unknown job,
// per spec.md §5's cancellation guarantee.
func (c *Controller) Stop(ctx context.Context, jobName string) error {
	c.watchers.Stop(jobName)

	if err := c.adapter.DeleteJob(ctx, c.opts.Namespace, jobName); err != nil && !trace.IsNotFound(err) {
		return err
	}

	if status, ok := c.registry.Get(jobName); ok && status.OutputPath != "" {
		if err := os.Remove(status.OutputPath); err != nil && !os.IsNotExist(err) {
			if c.log != nil {
				c.log.WithField("job_name", jobName).WithError(err).Warn("failed to remove job artifact on stop")
			}
		}
	}

	c.registry.Remove(jobName)
	return nil
}

func (c *Controller) onSingleTerminal(ctx context.Context, jobName string, condition batchv1.JobCondition) {
	status := mapConditionToStatus(condition)

	logs, logErr := c.fetchLogs(ctx, jobName)
	message := condition.Message

	patch := registryPatch(status, message, logs)
	c.registry.Update(jobName, patch)
	if logErr != nil && c.log != nil {
		c.log.WithField("job_name", jobName).WithError(logErr).Warn("failed to fetch logs on terminal event")
	}

	if err := c.adapter.DeleteJob(ctx, c.opts.Namespace, jobName); err != nil && !trace.IsNotFound(err) && c.log != nil {
		c.log.WithField("job_name", jobName).WithError(err).Warn("failed to delete terminal job")
	}
}

func (c *Controller) fetchLogs(ctx context.Context, jobName string) (string, error) {
	pods, err := c.adapter.ListPods(ctx, c.opts.Namespace, jobName)
	if err != nil {
		return "Error retrieving logs", err
	}
	if len(pods) == 0 {
		return "", nil
	}
	pod := pods[0]
	if len(pod.Containers) == 0 {
		return "", nil
	}
	out, err := c.adapter.ReadPodLog(ctx, c.opts.Namespace, pod.Name, pod.Containers[0].Name)
	if err != nil {
		return "Error retrieving logs", err
	}
	return out, nil
}
