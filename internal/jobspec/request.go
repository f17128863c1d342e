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

package jobspec

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// validFormats is the allowed PointCloudRequest.Format enum from
// spec.md §6.
var validFormats = map[string]bool{
	"pcd-ascii": true,
	"lasv14":    true,
	"pcd-bin":   true,
	"lasv13":    true,
	"lasv12":    true,
}

// dataRoot is the mount point every file_path must resolve under, per
// original_source/lidar-api/src/api/models.py's ROOT_VOLUME check.
const dataRoot = "/data"

// PointCloudRequest is the JSON body of POST /start-job, translated
// into a single-processor job's cli_args, per spec.md §6 and
// original_source/lidar-api/src/api/models.py's to_cli_arguments.
type PointCloudRequest struct {
	FilePath             string   `json:"file_path"`
	RemoveAttribute      []string `json:"remove_attribute,omitempty"`
	RemoveAllAttributes  bool     `json:"remove_all_attributes,omitempty"`
	RemoveColor          bool     `json:"remove_color,omitempty"`
	Format               string   `json:"format,omitempty"`
	Line                 *int     `json:"line,omitempty"`
	Returns              *int     `json:"returns,omitempty"`
	Number               *int     `json:"number,omitempty"`
	Density              *float64 `json:"density,omitempty"`
	ROI                  []float64 `json:"roi,omitempty"`
	OutCRS               string   `json:"outcrs,omitempty"`
	InCRS                string   `json:"incrs,omitempty"`
}

// Validate checks every constraint in spec.md §6's PointCloudRequest
// table and normalises FilePath to "/data/<suffix>". It returns a
// trace.BadParameter wrapping the first violation found.
func (r *PointCloudRequest) Validate() error {
	if r.FilePath == "" {
		return trace.BadParameter("file_path is required")
	}
	clean := path.Clean(r.FilePath)
	if clean != dataRoot && !strings.HasPrefix(clean, dataRoot+"/") {
		return trace.BadParameter("file_path must resolve under %v", dataRoot)
	}
	// path.Clean has already resolved ".." segments, so
	// "/data/../etc/passwd" fails the prefix check above as
	// "/etc/passwd"; any ".." left in the cleaned path is rejected too.
	if strings.Contains(clean, "..") {
		return trace.BadParameter("file_path must not contain parent directory references")
	}
	r.FilePath = clean

	if r.Format != "" && !validFormats[r.Format] {
		return trace.BadParameter("format %q is not one of the supported formats", r.Format)
	}
	if r.Line != nil && *r.Line < 0 {
		return trace.BadParameter("line must be >= 0")
	}
	if r.Returns != nil && *r.Returns < -1 {
		return trace.BadParameter("returns must be >= -1")
	}
	if r.Number != nil && *r.Number < -1 {
		return trace.BadParameter("number must be >= -1")
	}
	if r.Density != nil && *r.Density <= 0 {
		return trace.BadParameter("density must be > 0")
	}
	if r.ROI != nil && len(r.ROI) != 9 {
		return trace.BadParameter("roi must have exactly 9 values, got %v", len(r.ROI))
	}
	if r.OutCRS != "" && !strings.HasPrefix(r.OutCRS, "EPSG:") {
		return trace.BadParameter("outcrs must start with EPSG:")
	}
	if r.InCRS != "" && !strings.HasPrefix(r.InCRS, "EPSG:") {
		return trace.BadParameter("incrs must start with EPSG:")
	}
	return nil
}

// ToCLIArgs translates a validated request into the positional +
// flag argument vector a single-processor container expects, mirroring
// original_source/lidar-api/src/api/models.py's to_cli_arguments.
func (r *PointCloudRequest) ToCLIArgs() []string {
	args := []string{r.FilePath}

	for _, attr := range r.RemoveAttribute {
		args = append(args, "--remove_attribute", attr)
	}
	if r.RemoveAllAttributes {
		args = append(args, "--remove_all_attributes")
	}
	if r.RemoveColor {
		args = append(args, "--remove_color")
	}
	if r.Format != "" {
		args = append(args, "-f="+r.Format)
	}
	if r.Line != nil {
		args = append(args, "-l="+strconv.Itoa(*r.Line))
	}
	if r.Returns != nil {
		args = append(args, "-r="+strconv.Itoa(*r.Returns))
	}
	if r.Number != nil {
		args = append(args, "-n="+strconv.Itoa(*r.Number))
	}
	if r.Density != nil {
		args = append(args, "-d="+strconv.FormatFloat(*r.Density, 'g', -1, 64))
	}
	if len(r.ROI) == 9 {
		parts := make([]string, 9)
		for i, v := range r.ROI {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		args = append(args, "--roi="+strings.Join(parts, ","))
	}
	if r.OutCRS != "" {
		args = append(args, "--outcrs="+r.OutCRS)
	}
	if r.InCRS != "" {
		args = append(args, "--incrs="+r.InCRS)
	}
	return args
}

// formatExtensionMedia maps a requested format to the download
// extension and media type pair from spec.md §6's content-type table.
type formatExtensionMedia struct {
	Extension string
	MediaType string
}

var downloadContentTypes = map[string]formatExtensionMedia{
	"pcd-ascii":  {".pcd", "text/plain"},
	"pcd-binary": {".pcd", "application/octet-stream"},
	"lasv14":     {".las", "application/octet-stream"},
	"las":        {".las", "application/octet-stream"},
	"laz":        {".laz", "application/octet-stream"},
	"ply":        {".ply", "application/octet-stream"},
	"ply-binary": {".ply", "application/octet-stream"},
	"ply-ascii":  {".ply", "text/plain"},
	"xyz":        {".xyz", "text/plain"},
	"txt":        {".txt", "text/plain"},
	"csv":        {".csv", "text/csv"},
}

// DownloadContentType returns the extension and media type to use for
// GET /download given the format the original request specified. An
// unrecognised or empty format falls back to the default ".bin"/
// application/octet-stream pair.
func DownloadContentType(format string) (extension, mediaType string) {
	if m, ok := downloadContentTypes[format]; ok {
		return m.Extension, m.MediaType
	}
	return ".bin", "application/octet-stream"
}

// String renders the argument vector for logging.
func (r *PointCloudRequest) String() string {
	return fmt.Sprintf("PointCloudRequest(%v)", strings.Join(r.ToCLIArgs(), " "))
}
