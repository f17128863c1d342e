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

package httpapi

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EPFL-ENAC/AddLidar-API/internal/catalog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar-API/internal/config"
	"github.com/EPFL-ENAC/AddLidar-API/internal/controller"
	"github.com/EPFL-ENAC/AddLidar-API/internal/jobspec"
	"github.com/EPFL-ENAC/AddLidar-API/internal/pushchannel"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

func testServer(t *testing.T) (*httptest.Server, *catalog.Store) {
	t.Helper()
	dir, err := ioutil.TempDir("", "httpapi-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := catalog.Open(filepath.Join(dir, "catalog.db"), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	ctrl := controller.New(cluster.NewFakeAdapter(), store, reg, jobspec.BuildOptions{
		Namespace:      "default",
		VolumeMode:     config.VolumeModeHostPath,
		ContainerImage: "registry.example.org/lidar-processor:latest",
	}, nil)

	server, err := NewServer(Config{
		Controller:   ctrl,
		Registry:     reg,
		Store:        store,
		PushChannels: pushchannel.NewServer(reg, nil),
	})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(server)
	t.Cleanup(httpSrv.Close)
	return httpSrv, store
}

func TestHealthReportsHealthy(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
}

func TestJobStatusUnknownNameReturnsStructuredNotFound(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/job-status/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "error", body.Status)
	require.Equal(t, "NotFound", body.ErrorType)
}

func TestCatalogVerifyReportsOrphanedRunningFolder(t *testing.T) {
	srv, store := testServer(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1, 1, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderRunning("mission-a/flight-1"))

	resp, err := http.Get(srv.URL + "/catalog/verify")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report catalog.VerifyReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Contains(t, report.OrphanedRunningFolders, "mission-a/flight-1")
}

func TestCatalogFoldersAllPaginates(t *testing.T) {
	srv, store := testServer(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1, 1, "")
	require.NoError(t, err)
	_, err = store.UpsertOnChangeFolder("mission-a/flight-2", "mission-a", "fp2", 1, 1, "")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/catalog/folders?limit=1&offset=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Folders []catalog.FolderRecord `json:"folders"`
		Limit   int                    `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Limit)
	require.Len(t, body.Folders, 1)
}
