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

// Package pushchannel implements the bidirectional job-status push
// stream of spec.md §4.9, served over golang.org/x/net/websocket the
// same way lib/app/handler/handler.go's streamAppHookLogs wraps a
// websocket.Server around a single handler function.
package pushchannel

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

// IdleTimeout is how long a channel waits for client traffic before
// sending a keepalive ping, per spec.md §4.9.
const IdleTimeout = 30 * time.Second

type pingMessage struct {
	Type    string `json:"type"`
	JobName string `json:"job_name"`
}

// closeMessage is the final message sent to a channel evicted by the
// Registry (superseded by a newer subscriber, or its job removed),
// per spec.md §4.9 step 2 and §4.6's stop() cleanup.
type closeMessage struct {
	Type    string `json:"type"`
	JobName string `json:"job_name"`
}

// channel is one accepted push-channel connection for a single
// job_name, implementing registry.Subscriber. Deliver must never
// block: the Registry invokes it while holding its own lock, so
// deliveries land on a depth-1 channel that always carries the latest
// status, an older undelivered one is simply replaced.
type channel struct {
	jobName string
	updates chan registry.JobStatus
	closed  chan struct{}
	once    sync.Once
}

func newChannel(jobName string) *channel {
	return &channel{
		jobName: jobName,
		updates: make(chan registry.JobStatus, 1),
		closed:  make(chan struct{}),
	}
}

// Deliver implements registry.Subscriber.
func (c *channel) Deliver(status registry.JobStatus) {
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- status:
	case <-c.closed:
	}
}

func (c *channel) close() {
	c.once.Do(func() { close(c.closed) })
}

// Evict implements registry.Subscriber. The Registry calls it while
// holding its own lock, so it must not block: it only signals closed,
// which serve's select loop observes to send a final message and tear
// the connection down.
func (c *channel) Evict() {
	c.close()
}

// Server accepts push-channel connections and registers them against
// the shared Status Registry.
type Server struct {
	reg *registry.Registry
	log *logrus.Entry
}

// NewServer builds a push-channel server bound to reg.
func NewServer(reg *registry.Registry, log *logrus.Entry) *Server {
	return &Server{reg: reg, log: log}
}

// Handler returns an http.Handler for one job_name's push channel,
// registered by the Request Front End at /ws/job-status/{job_name}.
func (s *Server) Handler(jobName string) http.Handler {
	return &websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			s.serve(ws, jobName)
		},
	}
}

func (s *Server) serve(ws *websocket.Conn, jobName string) {
	ch := newChannel(jobName)
	defer ch.close()

	// Step 1: send the current snapshot, or a synthetic Pending status
	// if no Registry entry exists yet.
	snapshot, ok := s.reg.Get(jobName)
	if !ok {
		snapshot = registry.JobStatus{JobName: jobName, Status: "Pending"}
	}
	if err := sendJSON(ws, snapshot); err != nil {
		return
	}

	// Step 2: register as the live subscriber, evicting any previous
	// one, per spec.md §4.9's single-subscriber invariant.
	s.reg.Subscribe(jobName, ch)
	defer s.reg.Unsubscribe(jobName, ch)

	incoming := make(chan string)
	readErrs := make(chan error, 1)
	go func() {
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				readErrs <- err
				return
			}
			incoming <- msg
		}
	}()

	for {
		select {
		case msg := <-incoming:
			if msg == "close" {
				return
			}
			current, ok := s.reg.Get(jobName)
			if !ok {
				current = registry.JobStatus{JobName: jobName, Status: "Pending"}
			}
			if err := sendJSON(ws, current); err != nil {
				return
			}
		case <-readErrs:
			return
		case status := <-ch.updates:
			if err := sendJSON(ws, status); err != nil {
				return
			}
		case <-ch.closed:
			sendJSON(ws, closeMessage{Type: "closed", JobName: jobName})
			return
		case <-time.After(IdleTimeout):
			if err := sendJSON(ws, pingMessage{Type: "ping", JobName: jobName}); err != nil {
				return
			}
		}
	}
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return websocket.Message.Send(ws, string(data))
}
