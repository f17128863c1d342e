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
	"os"
	"strings"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/EPFL-ENAC/AddLidar-API/internal/jobspec"
)

// health answers GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// startJob answers POST /start-job: validates the PointCloudRequest
// body, translates it to cli_args, and submits a single-processor job.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return trace.Wrap(err)
	}

	var req jobspec.PointCloudRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	if err := req.Validate(); err != nil {
		return trace.Wrap(err)
	}

	jobName, err := s.Controller.SubmitSingle(r.Context(), req.ToCLIArgs())
	if err != nil {
		return trace.Wrap(err)
	}

	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"job_name":   jobName,
		"status_url": s.PathPrefix + "/job-status/" + jobName,
	})
	return nil
}

// jobStatus answers GET /job-status/{name}.
func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	name := p.ByName("name")
	status, ok := s.Registry.Get(name)
	if !ok {
		return trace.NotFound("job %q not found", name)
	}
	roundtrip.ReplyJSON(w, http.StatusOK, status)
	return nil
}

// download answers GET /download/{name}: serves the job's output
// artifact if the job is Complete and the file exists, per spec.md
// §4.10/§6.
func (s *Server) download(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	name := p.ByName("name")
	status, ok := s.Registry.Get(name)
	if !ok {
		return trace.NotFound("job %q not found", name)
	}
	if status.Status != "Complete" {
		return trace.NotFound("job %q has no completed artifact", name)
	}
	if status.OutputPath == "" {
		return trace.NotFound("job %q has no output path recorded", name)
	}
	if _, statErr := os.Stat(status.OutputPath); statErr != nil {
		return trace.NotFound("artifact for job %q is missing on disk", name)
	}

	extension, mediaType := jobspec.DownloadContentType(formatFromCLIArgs(status.CLIArgs))
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+extension+"\"")
	http.ServeFile(w, r, status.OutputPath)

	if s.DeleteArtifactAfterDownload {
		if err := os.Remove(status.OutputPath); err != nil && !os.IsNotExist(err) {
			s.Log.WithField("job_name", name).WithError(err).Warn("failed to remove artifact after download")
		}
	}
	return nil
}

// formatFromCLIArgs recovers the "-f=<format>" flag a submit_single
// call recorded, so /download can pick the right content type without
// the Registry needing a dedicated Format field.
func formatFromCLIArgs(cliArgs []string) string {
	for _, arg := range cliArgs {
		if strings.HasPrefix(arg, "-f=") {
			return strings.TrimPrefix(arg, "-f=")
		}
	}
	return ""
}

// stopJob answers DELETE /stop-job/{name}.
func (s *Server) stopJob(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
	name := p.ByName("name")
	if err := s.Controller.Stop(r.Context(), name); err != nil {
		return trace.Wrap(err)
	}
	roundtrip.ReplyJSON(w, http.StatusOK, map[string]interface{}{
		"job_name": name,
		"status":   "Job stopped successfully",
	})
	return nil
}

// wsJobStatus answers OPEN /ws/job-status/{name}: a websocket.Server
// wraps the pushchannel handler the same way streamAppHookLogs wraps
// one around StreamAppHookLogs in the teacher.
func (s *Server) wsJobStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("name")
	s.PushChannels.Handler(name).ServeHTTP(w, r)
}
