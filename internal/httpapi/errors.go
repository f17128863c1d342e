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

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// errorResponse is the structured error body of spec.md §7:
// {status: "error", error_type, error_details, output}.
type errorResponse struct {
	Status       string `json:"status"`
	ErrorType    string `json:"error_type"`
	ErrorDetails string `json:"error_details"`
	Output       string `json:"output,omitempty"`
}

// writeError renders err as spec.md §7's structured error response,
// picking an HTTP status from trace's error-kind predicates the way
// WebHandler.wrap picks kinds via trace.Unwrap, but with the response
// body spec.md names explicitly instead of trace's own wire format.
func writeError(w http.ResponseWriter, errorType string, err error) {
	code := statusCodeFor(err)
	roundtrip.ReplyJSON(w, code, errorResponse{
		Status:       "error",
		ErrorType:    errorType,
		ErrorDetails: trace.Unwrap(err).Error(),
	})
}

func statusCodeFor(err error) int {
	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorTypeFor names the spec.md §7 error kind for err, used for the
// JSON error_type field.
func errorTypeFor(err error) string {
	switch {
	case trace.IsNotFound(err):
		return "NotFound"
	case trace.IsBadParameter(err):
		return "ValidationError"
	case trace.IsAlreadyExists(err):
		return "AlreadyExists"
	case trace.IsConnectionProblem(err):
		return "ClusterError"
	default:
		return "Unexpected"
	}
}
