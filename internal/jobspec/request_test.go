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
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestValidateRejectsPathEscape(t *testing.T) {
	req := &PointCloudRequest{FilePath: "/etc/passwd"}
	err := req.Validate()
	require.Error(t, err)
}

func TestValidateRejectsParentTraversal(t *testing.T) {
	req := &PointCloudRequest{FilePath: "/data/../etc/passwd"}
	err := req.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsMinimalRequest(t *testing.T) {
	req := &PointCloudRequest{FilePath: "/data/a.las"}
	require.NoError(t, req.Validate())
	require.Equal(t, []string{"/data/a.las"}, req.ToCLIArgs())
}

func TestValidateRejectsBadFormat(t *testing.T) {
	req := &PointCloudRequest{FilePath: "/data/a.las", Format: "geotiff"}
	require.Error(t, req.Validate())
}

func TestValidateRejectsBadROI(t *testing.T) {
	req := &PointCloudRequest{FilePath: "/data/a.las", ROI: []float64{1, 2, 3}}
	require.Error(t, req.Validate())
}

func TestValidateRejectsBadCRSPrefix(t *testing.T) {
	req := &PointCloudRequest{FilePath: "/data/a.las", OutCRS: "4326"}
	require.Error(t, req.Validate())
}

func TestToCLIArgsFullRequest(t *testing.T) {
	req := &PointCloudRequest{
		FilePath:            "/data/a.las",
		RemoveAttribute:     []string{"intensity", "classification"},
		RemoveAllAttributes: true,
		RemoveColor:         true,
		Format:              "lasv14",
		Line:                intPtr(2),
		Returns:             intPtr(-1),
		Number:              intPtr(1),
		Density:             floatPtr(0.5),
		ROI:                 []float64{0, 0, 0, 1, 1, 1, 0, 0, 0},
		OutCRS:              "EPSG:2056",
		InCRS:               "EPSG:4326",
	}
	require.NoError(t, req.Validate())

	args := req.ToCLIArgs()
	require.Equal(t, "/data/a.las", args[0])
	require.Contains(t, args, "--remove_attribute")
	require.Contains(t, args, "intensity")
	require.Contains(t, args, "--remove_all_attributes")
	require.Contains(t, args, "--remove_color")
	require.Contains(t, args, "-f=lasv14")
	require.Contains(t, args, "-l=2")
	require.Contains(t, args, "-r=-1")
	require.Contains(t, args, "-n=1")
	require.Contains(t, args, "-d=0.5")
	require.Contains(t, args, "--roi=0,0,0,1,1,1,0,0,0")
	require.Contains(t, args, "--outcrs=EPSG:2056")
	require.Contains(t, args, "--incrs=EPSG:4326")
}

func TestDownloadContentTypeMapping(t *testing.T) {
	ext, media := DownloadContentType("pcd-ascii")
	require.Equal(t, ".pcd", ext)
	require.Equal(t, "text/plain", media)

	ext, media = DownloadContentType("unknown-format")
	require.Equal(t, ".bin", ext)
	require.Equal(t, "application/octet-stream", media)
}
