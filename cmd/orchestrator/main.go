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

// Command orchestrator is the Job Orchestrator/API binary of spec.md
// §2: it serves the Request Front End's HTTP surface, wiring the
// Catalog Store, Cluster Adapter, Status Registry, Watcher Pool, Job
// Controller, and Push Channels together behind one shared process.
package main

import (
	"net/http"
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/EPFL-ENAC/AddLidar-API/internal/catalog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar-API/internal/config"
	"github.com/EPFL-ENAC/AddLidar-API/internal/controller"
	"github.com/EPFL-ENAC/AddLidar-API/internal/httpapi"
	"github.com/EPFL-ENAC/AddLidar-API/internal/jobspec"
	"github.com/EPFL-ENAC/AddLidar-API/internal/obslog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/pushchannel"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

func main() {
	app := kingpin.New("lidar-orchestrator", "Serves point-cloud processing job requests and the read-only catalog API")

	settings := &config.Settings{}
	app.Flag("listen", "HTTP bind address").Default(":8080").StringVar(&settings.ListenAddr)
	app.Flag("path-prefix", "Prefix prepended to every route").StringVar(&settings.PathPrefix)
	app.Flag("db-path", "Path to the sqlite catalog database").Required().StringVar(&settings.DBPath)
	app.Flag("log-level", "Logging level (debug, info, warn, error)").Default("info").StringVar(&settings.LogLevel)
	app.Flag("namespace", "Kubernetes namespace jobs are created in").Default(config.DefaultNamespace).StringVar(&settings.Namespace)
	app.Flag("container-image", "Container image every submitted job runs").Required().StringVar(&settings.ContainerImage)
	app.Flag("kubeconfig", "Path to a kubeconfig file; empty uses in-cluster config").StringVar(&settings.Kubeconfig)
	app.Flag("delete-artifact-after-download", "Remove a job's output artifact once served").BoolVar(&settings.DeleteArtifactAfterDownload)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := settings.CheckAndSetDefaults(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	obslog.Init(settings.LogLevel, os.Stderr)
	logger := obslog.WithComponent("orchestrator")

	if err := run(settings, logger); err != nil {
		logger.WithError(err).Error(trace.DebugReport(err))
		os.Exit(1)
	}
}

func run(settings *config.Settings, logger *log.Entry) error {
	store, err := catalog.Open(settings.DBPath, config.CatalogBusyTimeout)
	if err != nil {
		return trace.Wrap(err, "opening catalog")
	}
	defer store.Close()

	adapter, err := cluster.NewK8sAdapter(settings.Kubeconfig)
	if err != nil {
		return trace.Wrap(err, "building cluster adapter")
	}

	reg := registry.New()
	ctrl := controller.New(adapter, store, reg, jobspec.BuildOptions{
		Namespace:         settings.Namespace,
		VolumeMode:        settings.VolumeMode,
		DataVolumeClaim:   settings.DataVolumeClaim,
		OutputVolumeClaim: settings.OutputVolumeClaim,
		ContainerImage:    settings.ContainerImage,
	}, logger)

	pushSrv := pushchannel.NewServer(reg, logger)

	server, err := httpapi.NewServer(httpapi.Config{
		Controller:                  ctrl,
		Registry:                    reg,
		Store:                       store,
		PushChannels:                pushSrv,
		PathPrefix:                  settings.PathPrefix,
		DeleteArtifactAfterDownload: settings.DeleteArtifactAfterDownload,
		Log:                         logger,
	})
	if err != nil {
		return trace.Wrap(err, "building http server")
	}

	logger.WithField("addr", settings.ListenAddr).Info("orchestrator listening")
	return trace.Wrap(http.ListenAndServe(settings.ListenAddr, server))
}
