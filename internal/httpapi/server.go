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

// Package httpapi implements the Request Front End of spec.md §4.10:
// the HTTP surface through which callers submit, inspect, stop, and
// stream point-cloud processing jobs, plus the read-only catalog
// browsing routes of §6. Grounded on lib/app/handler/handler.go's
// httprouter registration and wrap()/needsAuth() error-dispatch
// pattern, minus the Teleport authentication middleware (spec.md's
// Non-goals exclude multi-tenant auth).
package httpapi

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/EPFL-ENAC/AddLidar-API/internal/catalog"
	"github.com/EPFL-ENAC/AddLidar-API/internal/controller"
	"github.com/EPFL-ENAC/AddLidar-API/internal/pushchannel"
	"github.com/EPFL-ENAC/AddLidar-API/internal/registry"
)

// Config collects everything the Request Front End needs to serve
// spec.md §6's HTTP surface.
type Config struct {
	Controller                  *controller.Controller
	Registry                    *registry.Registry
	Store                       *catalog.Store
	PushChannels                *pushchannel.Server
	PathPrefix                  string
	DeleteArtifactAfterDownload bool
	Log                         *logrus.Entry
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Controller == nil {
		return trace.BadParameter("missing parameter Controller")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.PushChannels == nil {
		return trace.BadParameter("missing parameter PushChannels")
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return nil
}

// Server is the httprouter-backed Request Front End.
type Server struct {
	httprouter.Router
	Config
}

// NewServer builds and registers every route of spec.md §6.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	s := &Server{Config: cfg}
	prefix := cfg.PathPrefix

	s.GET(prefix+"/health", s.wrap(s.health))
	s.POST(prefix+"/start-job", s.wrap(s.startJob))
	s.GET(prefix+"/job-status/:name", s.wrap(s.jobStatus))
	s.GET(prefix+"/download/:name", s.wrap(s.download))
	s.DELETE(prefix+"/stop-job/:name", s.wrap(s.stopJob))
	s.GET(prefix+"/ws/job-status/:name", s.wsJobStatus)
	s.GET(prefix+"/catalog/folders", s.wrap(s.catalogFoldersAll))
	s.GET(prefix+"/catalog/folders/*subpath", s.wrap(s.catalogFoldersBySubpath))
	s.GET(prefix+"/catalog/missions/:mission_key", s.wrap(s.catalogMission))
	s.GET(prefix+"/catalog/manifests", s.wrap(s.catalogManifests))
	s.GET(prefix+"/catalog/verify", s.wrap(s.catalogVerify))

	return s, nil
}

// wrap adapts an error-returning handler into an httprouter.Handle,
// logging and translating the error into an HTTP response the same
// way WebHandler.wrap does in the teacher.
func (s *Server) wrap(fn func(w http.ResponseWriter, r *http.Request, p httprouter.Params) error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if err := fn(w, r, p); err != nil {
			s.Log.WithField("path", r.URL.Path).WithError(err).Info("handler error")
			writeError(w, errorTypeFor(err), err)
		}
	}
}
