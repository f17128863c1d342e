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
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/EPFL-ENAC/AddLidar-API/internal/config"
)

// Recipe names the three job shapes from spec.md §4.4.
type Recipe string

const (
	RecipeArchiveBatch    Recipe = "archive-batch"
	RecipeConverterBatch  Recipe = "converter-batch"
	RecipeSingleProcessor Recipe = "single-processor"
)

const (
	dataMountPath   = "/data"
	outputMountPath = "/output"
)

// BuildOptions carries the settings every recipe needs to render a
// manifest: namespace, volume binding mode, and container image.
type BuildOptions struct {
	Namespace         string
	VolumeMode        config.VolumeMode
	DataVolumeClaim   string
	OutputVolumeClaim string
	ContainerImage    string
}

func volumes(opts BuildOptions, dataReadOnly bool) ([]corev1.Volume, []corev1.VolumeMount) {
	volumes := []corev1.Volume{}
	mounts := []corev1.VolumeMount{
		{Name: config.DataVolumeName, MountPath: dataMountPath, ReadOnly: dataReadOnly},
		{Name: config.OutputVolumeName, MountPath: outputMountPath},
	}

	if opts.VolumeMode == config.VolumeModePVC {
		volumes = append(volumes,
			corev1.Volume{
				Name: config.DataVolumeName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: opts.DataVolumeClaim,
						ReadOnly:  dataReadOnly,
					},
				},
			},
			corev1.Volume{
				Name: config.OutputVolumeName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: opts.OutputVolumeClaim,
					},
				},
			},
		)
		return volumes, mounts
	}

	volumes = append(volumes,
		corev1.Volume{
			Name:         config.DataVolumeName,
			VolumeSource: corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: dataMountPath}},
		},
		corev1.Volume{
			Name:         config.OutputVolumeName,
			VolumeSource: corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: outputMountPath}},
		},
	)
	return volumes, mounts
}

func ttlPointer() *int32 {
	seconds := int32(config.JobTTLAfterFinished / time.Second)
	return &seconds
}

func int32Ptr(v int32) *int32 { return &v }

// BuildSingleJob renders the single-processor recipe: a one-pod job
// running a point-cloud conversion with the caller's cli_args plus an
// injected -o=<output_root>/<unique_filename>, per spec.md §4.4.
func BuildSingleJob(opts BuildOptions, cliArgs []string) (*batchv1.Job, string, error) {
	jobName := MakeSingleJobName()
	filename := UniqueFilename()
	outputPath := outputMountPath + "/" + filename

	args := append([]string{}, cliArgs...)
	args = append(args, "-o="+outputPath)

	vols, mounts := volumes(opts, true)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: opts.Namespace,
			Labels:    map[string]string{"job-name": jobName, "recipe": string(RecipeSingleProcessor)},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(config.SingleJobBackoffLimit),
			TTLSecondsAfterFinished: ttlPointer(),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"job-name": jobName},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes:       vols,
					Containers: []corev1.Container{
						{
							Name:         "processor",
							Image:        opts.ContainerImage,
							Args:         args,
							VolumeMounts: mounts,
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(config.SingleJobCPURequest),
									corev1.ResourceMemory: resource.MustParse(config.SingleJobMemRequestMiB),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(config.SingleJobCPULimit),
									corev1.ResourceMemory: resource.MustParse(config.SingleJobMemLimitMiB),
								},
							},
						},
					},
				},
			},
		},
	}
	return job, outputPath, nil
}

// BatchItem is one worklist entry handed to an archive or converter
// batch job's command.
type BatchItem struct {
	Key        string
	SourcePath string
	OutputPath string
}

// BuildBatchJob renders the archive-batch or converter-batch recipe:
// one job whose container command iterates the worklist at the given
// parallelism, per spec.md §4.4. Each item's shell command is built by
// itemCommand, which must itself arrange for the item's success to be
// reported back to the Catalog (the job's post-step).
func BuildBatchJob(recipe Recipe, opts BuildOptions, items []BatchItem, parallelism int, itemCommand func(BatchItem) string, now time.Time) (*batchv1.Job, error) {
	if recipe != RecipeArchiveBatch && recipe != RecipeConverterBatch {
		return nil, fmt.Errorf("unsupported batch recipe %q", recipe)
	}
	if parallelism <= 0 || parallelism > len(items) {
		parallelism = len(items)
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	jobName := MakeBatchJobName(string(recipe), now)

	commands := make([]string, 0, len(items))
	for _, item := range items {
		commands = append(commands, itemCommand(item))
	}
	script := strings.Join(commands, "\n")

	dataReadOnly := recipe == RecipeConverterBatch
	vols, mounts := volumes(opts, dataReadOnly)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: opts.Namespace,
			Labels:    map[string]string{"job-name": jobName, "recipe": string(recipe)},
		},
		Spec: batchv1.JobSpec{
			Parallelism:             int32Ptr(int32(parallelism)),
			BackoffLimit:            int32Ptr(config.ArchiveBackoffLimit),
			TTLSecondsAfterFinished: ttlPointer(),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"job-name": jobName},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes:       vols,
					Containers: []corev1.Container{
						{
							Name:         "worker",
							Image:        opts.ContainerImage,
							Command:      []string{"/bin/sh", "-c"},
							Args:         []string{script},
							VolumeMounts: mounts,
						},
					},
				},
			},
		},
	}
	return job, nil
}

// ArchiveItemCommand builds the shell command for one archive-batch
// worklist item: tar the source directory into its output path.
func ArchiveItemCommand(item BatchItem) string {
	return fmt.Sprintf("tar -czf %q -C %q . && lidar-catalog-update --folder-key %q --status complete",
		item.OutputPath, item.SourcePath, item.Key)
}

// ConverterItemCommand builds the shell command for one
// converter-batch worklist item: run the potree converter against a
// mission's manifest into its viewer output directory.
func ConverterItemCommand(item BatchItem) string {
	return fmt.Sprintf("potree-converter %q -o %q && lidar-catalog-update --mission-key %q --status complete",
		item.SourcePath, item.OutputPath, item.Key)
}
