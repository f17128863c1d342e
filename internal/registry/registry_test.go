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

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	received []JobStatus
	evicted  bool
}

func (s *recordingSubscriber) Deliver(status JobStatus) {
	s.received = append(s.received, status)
}

func (s *recordingSubscriber) Evict() {
	s.evicted = true
}

func TestCreateThenUpdatePreservesUnmentionedFields(t *testing.T) {
	r := New()
	r.Create("job-1", "/output/out.bin", []string{"/data/a.las"})

	running := StatusRunning
	r.Update("job-1", Patch{Status: &running})

	status, ok := r.Get("job-1")
	require.True(t, ok)
	require.Equal(t, StatusRunning, status.Status)
	require.Equal(t, "/output/out.bin", status.OutputPath)
	require.Equal(t, []string{"/data/a.las"}, status.CLIArgs)
}

func TestUpdateComputesTotalTimeFromCreatedAt(t *testing.T) {
	r := New()
	base := time.Unix(1700000000, 0)
	fixedTimes := []time.Time{base, base.Add(5 * time.Second)}
	tick := 0
	r.clock = func() time.Time {
		tick++
		return fixedTimes[tick-1]
	}
	r.Create("job-1", "", nil)

	running := StatusRunning
	status := r.Update("job-1", Patch{Status: &running})
	require.Equal(t, int64(5), status.TotalTimeS)
}

func TestSubscriberReceivesUpdatesInOrder(t *testing.T) {
	r := New()
	sub := &recordingSubscriber{}
	r.Create("job-1", "", nil)
	r.Subscribe("job-1", sub)

	running := StatusRunning
	complete := StatusComplete
	r.Update("job-1", Patch{Status: &running})
	r.Update("job-1", Patch{Status: &complete})

	require.Len(t, sub.received, 2)
	require.Equal(t, StatusRunning, sub.received[0].Status)
	require.Equal(t, StatusComplete, sub.received[1].Status)
}

func TestNewSubscriberEvictsPrevious(t *testing.T) {
	r := New()
	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	r.Create("job-1", "", nil)
	r.Subscribe("job-1", first)
	r.Subscribe("job-1", second)

	running := StatusRunning
	r.Update("job-1", Patch{Status: &running})

	require.Empty(t, first.received)
	require.Len(t, second.received, 1)
	require.True(t, first.evicted)
	require.False(t, second.evicted)
}

func TestRemoveClearsEntryAndSubscriber(t *testing.T) {
	r := New()
	sub := &recordingSubscriber{}
	r.Create("job-1", "", nil)
	r.Subscribe("job-1", sub)
	r.Remove("job-1")

	_, ok := r.Get("job-1")
	require.False(t, ok)

	running := StatusRunning
	r.Update("job-1", Patch{Status: &running})
	require.Empty(t, sub.received)
	require.True(t, sub.evicted)
}

func TestIsTerminal(t *testing.T) {
	require.False(t, StatusCreated.IsTerminal())
	require.False(t, StatusRunning.IsTerminal())
	require.True(t, StatusComplete.IsTerminal())
	require.True(t, StatusError.IsTerminal())
}
