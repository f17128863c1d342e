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

package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/EPFL-ENAC/AddLidar-API/internal/cluster"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

func TestWatcherPatchesRunningThenInvokesTerminalHandler(t *testing.T) {
	fake := cluster.NewFakeAdapter()
	fake.ScriptEvents("job-1", []cluster.JobEvent{
		{Name: "job-1", ActiveCount: 1},
		{Name: "job-1", Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: "True"}}},
	})
	reg := registry.New()
	reg.Create("job-1", "", nil)

	pool := NewPool(fake, reg, nil)

	var mu sync.Mutex
	var gotCondition *batchv1.JobCondition
	done := make(chan struct{})

	pool.Start("default", "job-1", func(ctx context.Context, jobName string, condition batchv1.JobCondition) {
		mu.Lock()
		c := condition
		gotCondition = &c
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotCondition)
	require.Equal(t, batchv1.JobComplete, gotCondition.Type)

	status, ok := reg.Get("job-1")
	require.True(t, ok)
	require.Equal(t, registry.StatusRunning, status.Status)
}

func TestStopCancelsWatcherBeforeTerminalEvent(t *testing.T) {
	fake := cluster.NewFakeAdapter()
	// No terminal event scripted, so the terminal handler must never
	// run; the fake closes the event stream once the script is spent.
	fake.ScriptEvents("job-2", []cluster.JobEvent{
		{Name: "job-2", ActiveCount: 1},
	})
	reg := registry.New()
	reg.Create("job-2", "", nil)
	pool := NewPool(fake, reg, nil)

	invoked := false
	pool.Start("default", "job-2", func(ctx context.Context, jobName string, condition batchv1.JobCondition) {
		invoked = true
	})

	// Give the watcher a moment to process the Running event, then
	// stop it before any terminal condition would arrive.
	time.Sleep(50 * time.Millisecond)
	pool.Stop("job-2")
	time.Sleep(50 * time.Millisecond)

	require.False(t, invoked)
}

func TestStartingNewWatcherStopsPrevious(t *testing.T) {
	fake := cluster.NewFakeAdapter()
	// Each watcher blocks in its terminal handler until cancelled, so
	// neither exits on its own before the assertions below.
	fake.ScriptEvents("job-3", []cluster.JobEvent{
		{Name: "job-3", Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: "True"}}},
	})
	reg := registry.New()
	pool := NewPool(fake, reg, nil)

	pool.Start("default", "job-3", func(ctx context.Context, jobName string, condition batchv1.JobCondition) { <-ctx.Done() })
	pool.mu.Lock()
	firstCancel, ok := pool.cancels["job-3"]
	pool.mu.Unlock()
	require.True(t, ok)
	require.NotNil(t, firstCancel)

	pool.Start("default", "job-3", func(ctx context.Context, jobName string, condition batchv1.JobCondition) { <-ctx.Done() })
	pool.mu.Lock()
	_, stillTracked := pool.cancels["job-3"]
	pool.mu.Unlock()
	require.True(t, stillTracked)
}
