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

package pushchannel

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

func startTestServer(t *testing.T, reg *registry.Registry, jobName string) (*httptest.Server, string) {
	t.Helper()
	s := NewServer(reg, nil)
	httpSrv := httptest.NewServer(s.Handler(jobName))
	t.Cleanup(httpSrv.Close)
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return httpSrv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, err := websocket.Dial(wsURL, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receiveStatus(t *testing.T, conn *websocket.Conn) registry.JobStatus {
	t.Helper()
	var raw string
	require.NoError(t, websocket.Message.Receive(conn, &raw))
	var status registry.JobStatus
	require.NoError(t, json.Unmarshal([]byte(raw), &status))
	return status
}

func TestAcceptSendsCurrentSnapshot(t *testing.T) {
	reg := registry.New()
	reg.Create("job-1", "/output/out.bin", []string{"/data/a.las"})

	_, wsURL := startTestServer(t, reg, "job-1")
	conn := dial(t, wsURL)

	status := receiveStatus(t, conn)
	require.Equal(t, registry.StatusCreated, status.Status)
	require.Equal(t, "/output/out.bin", status.OutputPath)
}

func TestAcceptSendsPendingWhenNoEntryExists(t *testing.T) {
	reg := registry.New()

	_, wsURL := startTestServer(t, reg, "job-unknown")
	conn := dial(t, wsURL)

	status := receiveStatus(t, conn)
	require.Equal(t, registry.Status("Pending"), status.Status)
}

func TestRegistryUpdatesPushToLiveSubscriber(t *testing.T) {
	reg := registry.New()
	reg.Create("job-2", "", nil)

	_, wsURL := startTestServer(t, reg, "job-2")
	conn := dial(t, wsURL)
	receiveStatus(t, conn) // initial snapshot

	msg := "running"
	reg.Update("job-2", registry.Patch{Message: &msg, Status: statusPtr(registry.StatusRunning)})

	status := receiveStatus(t, conn)
	require.Equal(t, registry.StatusRunning, status.Status)
	require.Equal(t, "running", status.Message)
}

func TestCloseMessageEndsTheStream(t *testing.T) {
	reg := registry.New()
	reg.Create("job-3", "", nil)

	_, wsURL := startTestServer(t, reg, "job-3")
	conn := dial(t, wsURL)
	receiveStatus(t, conn) // initial snapshot

	require.NoError(t, websocket.Message.Send(conn, "close"))

	var raw string
	err := websocket.Message.Receive(conn, &raw)
	require.Error(t, err)

	// Once the handler has exited, a fresh subscribe/unsubscribe pair
	// for the same job_name runs without blocking and leaves the job's
	// Registry entry in place.
	require.Eventually(t, func() bool {
		probe := &recordingChannel{}
		reg.Subscribe("job-3", probe)
		reg.Unsubscribe("job-3", probe)
		_, entryKept := reg.Get("job-3")
		return entryKept
	}, time.Second, 10*time.Millisecond)
}

func TestAnyOtherMessageRepliesWithCurrentSnapshot(t *testing.T) {
	reg := registry.New()
	reg.Create("job-4", "/output/out.bin", nil)

	_, wsURL := startTestServer(t, reg, "job-4")
	conn := dial(t, wsURL)
	receiveStatus(t, conn) // initial snapshot

	require.NoError(t, websocket.Message.Send(conn, "status?"))

	status := receiveStatus(t, conn)
	require.Equal(t, registry.StatusCreated, status.Status)
}

func TestNewSubscriberEvictsPreviousChannel(t *testing.T) {
	reg := registry.New()
	reg.Create("job-5", "", nil)

	srv, wsURL := startTestServer(t, reg, "job-5")
	_ = srv
	firstConn := dial(t, wsURL)
	receiveStatus(t, firstConn)

	secondConn := dial(t, wsURL)
	receiveStatus(t, secondConn)

	// Superseding the first connection's subscription must close it
	// with a final message, not leave it orphaned.
	var raw string
	require.NoError(t, websocket.Message.Receive(firstConn, &raw))
	var closeMsg closeMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &closeMsg))
	require.Equal(t, "closed", closeMsg.Type)

	reg.Update("job-5", registry.Patch{Status: statusPtr(registry.StatusRunning)})

	// Only the second (current) connection should receive the live update.
	status := receiveStatus(t, secondConn)
	require.Equal(t, registry.StatusRunning, status.Status)
}

func TestStopClosesThePushChannelWithFinalMessage(t *testing.T) {
	reg := registry.New()
	reg.Create("job-6", "", nil)

	_, wsURL := startTestServer(t, reg, "job-6")
	conn := dial(t, wsURL)
	receiveStatus(t, conn) // initial snapshot

	// Controller.Stop removes the Registry entry, which must evict and
	// close any live Push Channel, per spec.md §4.6's stop() cleanup.
	reg.Remove("job-6")

	var raw string
	require.NoError(t, websocket.Message.Receive(conn, &raw))
	var closeMsg closeMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &closeMsg))
	require.Equal(t, "closed", closeMsg.Type)
	require.Equal(t, "job-6", closeMsg.JobName)
}

func statusPtr(s registry.Status) *registry.Status {
	return &s
}

type recordingChannel struct{}

func (r *recordingChannel) Deliver(status registry.JobStatus) {}
func (r *recordingChannel) Evict()                            {}
