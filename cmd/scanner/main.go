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

// Command scanner is the Scanner/Enqueuer binary of spec.md §2: one
// scan tick over the original_root tree, diffed against the Catalog
// Store, with any resulting worklist submitted as archive-batch and
// converter-batch jobs (or merely printed, for --dry-run/--export-only).
// Before submitting, a reconciliation pass marks failed any batch work
// left running past its TTL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/EPFL-ENAC/AddLidar-API/internal/catalog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/changedetect"
	"github.com/EPFL-ENAC/AddLidar-API/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar-API/internal/config"
	"github.com/EPFL-ENAC/AddLidar-API/internal/controller"
	"github.com/EPFL-ENAC/AddLidar-API/internal/jobspec"
	"github.com/EPFL-ENAC/AddLidar-API/internal/obslog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

func main() {
	app := kingpin.New("lidar-scanner", "Scans the LiDAR data estate and enqueues processing jobs")

	settings := &config.Settings{}
	app.Flag("original-root", "Root of the two-level mission/subfolder tree").Required().StringVar(&settings.OriginalRoot)
	app.Flag("zip-root", "Directory archive-batch outputs are written under").Required().StringVar(&settings.ZipRoot)
	app.Flag("viewer-root", "Directory converter-batch outputs are written under").StringVar(&settings.ViewerRoot)
	app.Flag("db-path", "Path to the sqlite catalog database").Required().StringVar(&settings.DBPath)
	app.Flag("log-level", "Logging level (debug, info, warn, error)").Default("info").StringVar(&settings.LogLevel)
	app.Flag("dry-run", "Report worklists without mutating the catalog").BoolVar(&settings.DryRun)
	app.Flag("export-only", "Print the worklist as JSON without submitting jobs").BoolVar(&settings.ExportOnly)
	app.Flag("max-jobs", "Maximum number of batch jobs submitted per scan tick").Default("1").IntVar(&settings.MaxJobs)
	app.Flag("parallelism", "Worklist item concurrency within a submitted batch job, and scan fan-out width").Default(fmt.Sprint(config.DefaultParallelism)).IntVar(&settings.Parallelism)
	app.Flag("namespace", "Kubernetes namespace batch jobs are created in").Default(config.DefaultNamespace).StringVar(&settings.Namespace)
	app.Flag("container-image", "Container image every batch job runs").Required().StringVar(&settings.ContainerImage)
	app.Flag("kubeconfig", "Path to a kubeconfig file; empty uses in-cluster config").StringVar(&settings.Kubeconfig)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := settings.CheckAndSetDefaults(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	obslog.Init(settings.LogLevel, os.Stderr)
	logger := obslog.WithComponent("scanner")

	if err := run(settings, logger); err != nil {
		logger.WithError(err).Error(trace.DebugReport(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(settings *config.Settings, logger *log.Entry) error {
	store, err := catalog.Open(settings.DBPath, config.CatalogBusyTimeout)
	if err != nil {
		return trace.Wrap(err, "opening catalog")
	}
	defer store.Close()

	detector := changedetect.New(store, settings.OriginalRoot, settings.ZipRoot, settings.ViewerRoot, settings.DryRun, logger)
	result, err := detector.ScanConcurrent(settings.Parallelism)
	if err != nil {
		return trace.Wrap(err, "scanning")
	}
	for _, w := range result.Warnings {
		logger.WithError(w).Warn("scan warning")
	}

	var totalKB int64
	for _, f := range result.Folders {
		totalKB += f.SizeKB
	}
	logger.WithFields(log.Fields{
		"folders":   len(result.Folders),
		"manifests": len(result.Manifests),
		"size":      humanize.Bytes(uint64(totalKB) * 1024),
	}).Info("scan complete")

	if settings.ExportOnly {
		return exportWorklist(result)
	}
	if settings.DryRun {
		return nil
	}

	adapter, err := cluster.NewK8sAdapter(settings.Kubeconfig)
	if err != nil {
		return trace.Wrap(err, "building cluster adapter")
	}

	ctrl := controller.New(adapter, store, registry.New(), jobspec.BuildOptions{
		Namespace:         settings.Namespace,
		VolumeMode:        settings.VolumeMode,
		DataVolumeClaim:   settings.DataVolumeClaim,
		OutputVolumeClaim: settings.OutputVolumeClaim,
		ContainerImage:    settings.ContainerImage,
	}, logger)

	// Recover any running record a prior batch job's container
	// crashed before updating, per spec.md §4.6/§9's reconciliation
	// note, before submitting this tick's new work.
	if err := ctrl.ReconcileBatch(config.BatchReconcileTTL); err != nil {
		logger.WithError(err).Warn("batch reconciliation failed")
	}

	if len(result.Folders) == 0 && len(result.Manifests) == 0 {
		return nil
	}

	return submitBatches(ctrl, settings, logger, result)
}

// submitBatches submits at most settings.MaxJobs batch jobs this
// tick: archive jobs for folder work first, then converter jobs for
// manifest work, per spec.md §4.4's two recipes.
func submitBatches(ctrl *controller.Controller, settings *config.Settings, logger *log.Entry, result changedetect.Result) error {
	ctx := context.Background()
	submitted := 0

	if len(result.Folders) > 0 && submitted < settings.MaxJobs {
		items := controller.BatchItemsFromFolderWork(settings.OriginalRoot, result.Folders)
		jobName, err := ctrl.SubmitBatch(ctx, jobspec.RecipeArchiveBatch, items, settings.Parallelism, jobspec.ArchiveItemCommand)
		if err != nil {
			return trace.Wrap(err, "submitting archive-batch job")
		}
		logger.WithField("job_name", jobName).WithField("items", len(items)).Info("submitted archive-batch job")
		submitted++
	}

	if len(result.Manifests) > 0 && submitted < settings.MaxJobs {
		items := controller.BatchItemsFromManifestWork(result.Manifests)
		jobName, err := ctrl.SubmitBatch(ctx, jobspec.RecipeConverterBatch, items, settings.Parallelism, jobspec.ConverterItemCommand)
		if err != nil {
			return trace.Wrap(err, "submitting converter-batch job")
		}
		logger.WithField("job_name", jobName).WithField("items", len(items)).Info("submitted converter-batch job")
		submitted++
	}

	return nil
}

func exportWorklist(result changedetect.Result) error {
	encoded, err := json.MarshalIndent(map[string]interface{}{
		"folders":   result.Folders,
		"manifests": result.Manifests,
	}, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Println(string(encoded))
	return nil
}
