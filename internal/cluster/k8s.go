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

package cluster

import (
	"bufio"
	"context"
	"io"

	"github.com/gravitational/rigging"
	"github.com/gravitational/trace"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// K8sAdapter implements Adapter against a real cluster via
// client-go, grounded on lib/app/hooks/hooks.go's newJobWatch/
// newPodWatch/StreamLogs/DeleteJob.
type K8sAdapter struct {
	client *kubernetes.Clientset
}

var _ Adapter = (*K8sAdapter)(nil)

// NewK8sAdapter builds a client from the two-stage strategy of spec.md
// §4.5: external kubeconfig first, then in-cluster config. First
// success wins; both failing is fatal.
func NewK8sAdapter(kubeconfigPath string) (*K8sAdapter, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, trace.Wrap(err, "no kubeconfig and no in-cluster config available")
		}
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &K8sAdapter{client: client}, nil
}

// CreateJob submits manifest and returns the server-assigned job name.
func (a *K8sAdapter) CreateJob(ctx context.Context, namespace string, manifest *batchv1.Job) (string, error) {
	manifest = manifest.DeepCopy()
	manifest.Namespace = namespace

	if _, err := a.client.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: namespace},
	}, metav1.CreateOptions{}); err != nil {
		if convertErr := rigging.ConvertError(err); convertErr != nil && !trace.IsAlreadyExists(convertErr) {
			return "", trace.Wrap(convertErr)
		}
	}

	created, err := a.client.BatchV1().Jobs(namespace).Create(ctx, manifest, metav1.CreateOptions{})
	if err != nil {
		return "", trace.Wrap(rigging.ConvertError(err))
	}
	return created.Name, nil
}

// DeleteJob deletes a job, cascading to its pods. NotFound is
// converted to a trace error callers can test with trace.IsNotFound.
func (a *K8sAdapter) DeleteJob(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationForeground
	err := a.client.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return trace.Wrap(rigging.ConvertError(err))
	}
	return nil
}

// WatchJobs streams JobEvents for the named job until ctx is
// cancelled or the underlying watch closes, grounded on
// lib/app/hooks/hooks.go's newJobWatch.
func (a *K8sAdapter) WatchJobs(ctx context.Context, namespace, name string) (<-chan JobEvent, error) {
	watcher, err := a.client.BatchV1().Jobs(namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fields.Set{"metadata.name": name}.String(),
		Watch:         true,
	})
	if err != nil {
		return nil, trace.Wrap(rigging.ConvertError(err))
	}

	out := make(chan JobEvent)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case event, ok := <-watcher.ResultChan():
				if !ok {
					return
				}
				job, ok := event.Object.(*batchv1.Job)
				if !ok {
					continue
				}
				select {
				case out <- jobEventFrom(job):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func jobEventFrom(job *batchv1.Job) JobEvent {
	ev := JobEvent{
		Name:        job.Name,
		Conditions:  job.Status.Conditions,
		ActiveCount: job.Status.Active,
	}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		ev.Start = &t
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		ev.Completion = &t
	}
	return ev
}

// ListPods returns every pod selected by job-name=name.
func (a *K8sAdapter) ListPods(ctx context.Context, namespace, name string) ([]Pod, error) {
	list, err := a.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.Set{"job-name": name}.String(),
	})
	if err != nil {
		return nil, trace.Wrap(rigging.ConvertError(err))
	}

	pods := make([]Pod, 0, len(list.Items))
	for _, p := range list.Items {
		pod := Pod{Name: p.Name, Phase: string(p.Status.Phase)}
		for _, cs := range p.Status.ContainerStatuses {
			pod.Containers = append(pod.Containers, ContainerStatus{
				Name:    cs.Name,
				Running: cs.State.Running != nil,
			})
		}
		pods = append(pods, pod)
	}
	return pods, nil
}

// ReadPodLog returns the full log of one pod container.
func (a *K8sAdapter) ReadPodLog(ctx context.Context, namespace, podName, containerName string) (string, error) {
	req := a.client.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: containerName,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", trace.Wrap(rigging.ConvertError(err))
	}
	defer stream.Close()

	var buf []byte
	reader := bufio.NewReader(stream)
	chunk := make([]byte, 4096)
	for {
		n, readErr := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", trace.Wrap(readErr)
		}
	}
	return string(buf), nil
}
