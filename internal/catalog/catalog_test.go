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

package catalog

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := ioutil.TempDir("", "catalog-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := Open(filepath.Join(dir, "catalog.db"), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestFreshFolderIsPending covers scenario S1: a folder seen for the
// first time is inserted as pending and needs processing.
func TestFreshFolderIsPending(t *testing.T) {
	store := openTestStore(t)

	needsReset, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "")
	require.NoError(t, err)
	require.True(t, needsReset)

	rec, err := store.GetFolder("mission-a/flight-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusPending, rec.ProcessingStatus)
	require.Equal(t, int64(1024), rec.SizeKB)
}

// TestNoChangeScanIsNoOp covers scenario S2: re-upserting the same
// fingerprint on an already-complete record does not reset it to
// pending.
func TestNoChangeScanIsNoOp(t *testing.T) {
	store := openTestStore(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderTerminal("mission-a/flight-1", StatusComplete, 42, ""))

	needsReset, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "/out/flight-1.tgz")
	require.NoError(t, err)
	require.False(t, needsReset)

	rec, err := store.GetFolder("mission-a/flight-1")
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rec.ProcessingStatus)
	require.Equal(t, "/out/flight-1.tgz", rec.OutputPath)
}

// TestMutationResetsToPending covers scenario S3: a fingerprint change
// on a complete record resets it to pending and clears prior timing
// and error fields.
func TestMutationResetsToPending(t *testing.T) {
	store := openTestStore(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderTerminal("mission-a/flight-1", StatusComplete, 42, ""))

	needsReset, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp2", 2048, 4, "")
	require.NoError(t, err)
	require.True(t, needsReset)

	rec, err := store.GetFolder("mission-a/flight-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.ProcessingStatus)
	require.Equal(t, int64(0), rec.LastProcessedEpoch)
	require.Equal(t, "", rec.ErrorMessage)
}

// TestFailedRecordRetriedOnNextScan covers scenario S4: a previously
// failed record is retried even when its fingerprint hasn't changed.
func TestFailedRecordRetriedOnNextScan(t *testing.T) {
	store := openTestStore(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderTerminal("mission-a/flight-1", StatusFailed, 5, "exit status 1"))

	needsReset, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "")
	require.NoError(t, err)
	require.True(t, needsReset)

	rec, err := store.GetFolder("mission-a/flight-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.ProcessingStatus)
	require.Equal(t, "", rec.ErrorMessage)
}

// TestCatalogDurableAcrossReopen covers invariant #6: committed state
// survives closing and reopening the store at the same path.
func TestCatalogDurableAcrossReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "catalog-durable")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "catalog.db")

	store, err := Open(path, 2*time.Second)
	require.NoError(t, err)
	_, err = store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1024, 3, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderTerminal("mission-a/flight-1", StatusComplete, 7, ""))
	require.NoError(t, store.Close())

	reopened, err := Open(path, 2*time.Second)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.GetFolder("mission-a/flight-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusComplete, rec.ProcessingStatus)
}

func TestListFoldersByKeyPrefixAndMission(t *testing.T) {
	store := openTestStore(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1, 1, "")
	require.NoError(t, err)
	_, err = store.UpsertOnChangeFolder("mission-a/flight-2", "mission-a", "fp2", 1, 1, "")
	require.NoError(t, err)
	_, err = store.UpsertOnChangeFolder("mission-b/flight-1", "mission-b", "fp3", 1, 1, "")
	require.NoError(t, err)

	byPrefix, err := store.ListFoldersByKeyPrefix("mission-a/")
	require.NoError(t, err)
	require.Len(t, byPrefix, 2)

	byMission, err := store.ListFoldersByMission("mission-b")
	require.NoError(t, err)
	require.Len(t, byMission, 1)
	require.Equal(t, "mission-b/flight-1", byMission[0].FolderKey)
}

func TestVerifyFlagsMissingOutputAndOrphanedRunning(t *testing.T) {
	store := openTestStore(t)

	_, err := store.UpsertOnChangeFolder("mission-a/flight-1", "mission-a", "fp1", 1, 1, "/does/not/exist.tgz")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderTerminal("mission-a/flight-1", StatusComplete, 1, ""))

	_, err = store.UpsertOnChangeFolder("mission-a/flight-2", "mission-a", "fp2", 1, 1, "")
	require.NoError(t, err)
	require.NoError(t, store.MarkFolderRunning("mission-a/flight-2"))

	report, err := store.Verify()
	require.NoError(t, err)
	require.Contains(t, report.MissingOutputFolders, "mission-a/flight-1")
	require.Contains(t, report.OrphanedRunningFolders, "mission-a/flight-2")
}

func TestMissionUpsertAndTerminal(t *testing.T) {
	store := openTestStore(t)

	needsReset, err := store.UpsertOnChangeMission("mission-a", "mfp1", "")
	require.NoError(t, err)
	require.True(t, needsReset)

	require.NoError(t, store.MarkMissionRunning("mission-a"))
	require.NoError(t, store.MarkMissionTerminal("mission-a", StatusComplete, 12, ""))

	rec, err := store.GetMission("mission-a")
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rec.ProcessingStatus)
	require.Equal(t, int64(12), rec.ProcessingTimeS)

	needsReset, err = store.UpsertOnChangeMission("mission-a", "mfp1", "/out/mission-a.metacloud")
	require.NoError(t, err)
	require.False(t, needsReset)
}
