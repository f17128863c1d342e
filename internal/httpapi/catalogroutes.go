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
	"net/http"
	"strconv"
	"strings"

	"github.com/gravitational/roundtrip"
	"github.com/julienschmidt/httprouter"
)

const (
	defaultCatalogLimit = 100
	maxCatalogLimit     = 1000
)

// catalogFoldersAll answers GET /catalog/folders?limit&offset.
func (s *Server) catalogFoldersAll(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	limit, offset := pagination(r)
	records, err := s.Store.ListFoldersAll(limit, offset)
	if err != nil {
		return err
	}
	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"folders": records,
		"limit":   limit,
		"offset":  offset,
	})
	return nil
}

// catalogFoldersBySubpath answers GET /catalog/folders/{subpath}: every
// folder record whose folder_key starts with subpath.
func (s *Server) catalogFoldersBySubpath(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	subpath := strings.TrimPrefix(p.ByName("subpath"), "/")
	records, err := s.Store.ListFoldersByKeyPrefix(subpath)
	if err != nil {
		return err
	}
	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"folders": records,
	})
	return nil
}

// catalogMission answers GET /catalog/missions/{mission_key}: the
// mission's own metacloud record (if any) plus every folder record
// beneath it.
func (s *Server) catalogMission(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	missionKey := p.ByName("mission_key")

	mission, err := s.Store.GetMission(missionKey)
	if err != nil {
		return err
	}
	folders, err := s.Store.ListFoldersByMission(missionKey)
	if err != nil {
		return err
	}

	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"mission": mission,
		"folders": folders,
	})
	return nil
}

// catalogManifests answers GET /catalog/manifests: every mission
// metacloud record, paginated the same way /catalog/folders is.
func (s *Server) catalogManifests(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	limit, offset := pagination(r)
	records, err := s.Store.ListMissionsAll(limit, offset)
	if err != nil {
		return err
	}
	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"manifests": records,
		"limit":     limit,
		"offset":    offset,
	})
	return nil
}

// catalogVerify answers GET /catalog/verify: the Go equivalent of
// check_db.py's manual audit queries, surfaced as a maintenance
// operation rather than only a test-only internal call.
func (s *Server) catalogVerify(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	report, err := s.Store.Verify()
	if err != nil {
		return err
	}
	roundtrip.ReplyJSON(w, http.StatusOK, report)
	return nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultCatalogLimit
	offset = 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxCatalogLimit {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
