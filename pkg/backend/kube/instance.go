package kube

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/utils/ptr"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

// CreateInstance submits a pod for the given config. It returns once the
// API server accepted the manifest; a background poller follows the pod to
// Running and, for HTTP-family transports, to Ready.
func (c *Client) CreateInstance(ctx context.Context, cfg backend.ServerConfig) (backend.Instance, error) {
	inst := c.tracker.NewInstance(backend.TagCluster, cfg)

	lock := c.tracker.Lock(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.tracker.Transition(inst.ID, backend.StateProvisioning); err != nil {
		return backend.Instance{}, err
	}

	name := podName(c.cfg.PodNamePrefix, cfg)
	manifest, err := podManifest(name, c.namespace, inst.ID, cfg)
	if err != nil {
		c.tracker.Fail(inst.ID, errors.ErrConfigValidation)
		return backend.Instance{}, errors.NewConfigValidationError(err.Error(), err)
	}

	created, err := c.client.CoreV1().Pods(c.namespace).Create(ctx, manifest, metav1.CreateOptions{})
	if err != nil {
		cause := apiErrorSubCause(err)
		c.tracker.Fail(inst.ID, cause)
		return backend.Instance{}, errors.NewPodCreationError(cause,
			fmt.Sprintf("failed to create pod: %v", err), err)
	}
	c.tracker.SetHandle(inst.ID, created.Name)
	logger.Infow("pod submitted", "instance", inst.ID, "pod", created.Name, "namespace", c.namespace)

	go c.awaitPodReady(inst.ID, created.Name, cfg.Transport.IsHTTPFamily())

	return c.tracker.Get(inst.ID)
}

// DeleteInstance deletes the pod. Unknown and already terminated
// identifiers yield an informational not_found error.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	lock := c.tracker.Lock(id)
	lock.Lock()
	defer lock.Unlock()

	inst, err := c.tracker.Get(id)
	if err != nil {
		return err
	}

	// A Failed instance is already terminal, so the Terminating edge does
	// not apply; the pod is still removed and the record dropped so the
	// identifier stops appearing in List.
	failed := inst.State == backend.StateFailed
	if !failed {
		if err := c.tracker.Transition(id, backend.StateTerminating); err != nil {
			return err
		}
	}

	if inst.Handle != "" {
		grace := int64(c.cfg.StopTimeout / time.Second)
		err := c.client.CoreV1().Pods(c.namespace).Delete(ctx, inst.Handle, metav1.DeleteOptions{
			GracePeriodSeconds: ptr.To(grace),
		})
		if err != nil && !apierrors.IsNotFound(err) {
			c.tracker.Fail(id, errors.ErrInternal)
			return errors.NewInternalError(fmt.Sprintf("failed to delete pod: %v", err), err)
		}
	}

	logger.Infow("pod deleted", "instance", id, "pod", inst.Handle)
	if failed {
		c.tracker.Drop(id)
		return nil
	}
	return c.tracker.Transition(id, backend.StateTerminated)
}

// GetInstance returns the tracked record for the identifier.
func (c *Client) GetInstance(_ context.Context, id string) (backend.Instance, error) {
	return c.tracker.Get(id)
}

// ListInstances returns all live cluster instances.
func (c *Client) ListInstances(_ context.Context) ([]backend.Instance, error) {
	return c.tracker.List(), nil
}

// AttachInstance opens an attach session to the pod's server container over
// SPDY and exposes it as three byte streams.
func (c *Client) AttachInstance(ctx context.Context, id string) (backend.AttachStreams, error) {
	inst, err := c.tracker.Get(id)
	if err != nil {
		return backend.AttachStreams{}, err
	}
	if inst.Config.Transport != backend.TransportStdio {
		return backend.AttachStreams{}, errors.NewUnsupportedOperationError(
			fmt.Sprintf("attach requires stdio transport, instance uses %s", inst.Config.Transport), nil)
	}

	req := c.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(inst.Handle).
		Namespace(c.namespace).
		SubResource("attach").
		VersionedParams(&corev1.PodAttachOptions{
			Container: serverContainerName,
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return backend.AttachStreams{}, errors.NewStreamError(
			fmt.Sprintf("failed to create attach executor: %v", err), err)
	}

	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	go func() {
		err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdin:  stdinReader,
			Stdout: stdoutWriter,
			Stderr: stderrWriter,
			Tty:    false,
		})
		if err != nil {
			logger.Debugw("attach stream ended", "instance", id, "error", err)
		}
		stdinReader.CloseWithError(err)
		stdoutWriter.CloseWithError(err)
		stderrWriter.CloseWithError(err)
	}()

	return backend.AttachStreams{
		Stdin:  stdinWriter,
		Stdout: stdoutReader,
		Stderr: stderrReader,
	}, nil
}

// MarkReady moves a Running instance to Ready. Calling it on an instance
// that is already Ready is a no-op.
func (c *Client) MarkReady(_ context.Context, id string) error {
	if c.tracker.CurrentState(id) == backend.StateReady {
		return nil
	}
	return c.tracker.Transition(id, backend.StateReady)
}

// GetLogs returns the tail of the pod's server container log.
func (c *Client) GetLogs(ctx context.Context, id string, tail int) (string, error) {
	inst, err := c.tracker.Get(id)
	if err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = 100
	}

	req := c.client.CoreV1().Pods(c.namespace).GetLogs(inst.Handle, &corev1.PodLogOptions{
		Container: serverContainerName,
		TailLines: ptr.To(int64(tail)),
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", errors.NewInternalError(fmt.Sprintf("failed to get pod logs: %v", err), err)
	}
	defer stream.Close()

	logBytes, err := io.ReadAll(stream)
	if err != nil {
		return "", errors.NewInternalError(fmt.Sprintf("failed to read pod logs: %v", err), err)
	}
	return string(logBytes), nil
}

// awaitPodReady polls the pod until it is Running, then until the Ready
// condition holds when the caller asked for it. Exhausting the attempt
// budget fails the instance with readiness_timeout; terminal pod states map
// onto the structured creation causes.
func (c *Client) awaitPodReady(id, podName string, waitForReadyCondition bool) {
	for attempt := 0; attempt < c.cfg.ReadinessPollAttempts; attempt++ {
		state := c.tracker.CurrentState(id)
		if state.IsTerminal() || state == backend.StateTerminating {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		pod, err := c.client.CoreV1().Pods(c.namespace).Get(ctx, podName, metav1.GetOptions{})
		cancel()
		if err != nil {
			if apierrors.IsNotFound(err) {
				c.tracker.Fail(id, errors.ErrInternal)
				return
			}
			time.Sleep(c.cfg.ReadinessPollInterval)
			continue
		}

		if cause := podFailureCause(pod); cause != "" {
			logger.Warnw("pod failed to come up", "instance", id, "pod", podName, "cause", cause)
			c.tracker.Fail(id, cause)
			return
		}

		switch pod.Status.Phase {
		case corev1.PodRunning:
			if c.tracker.CurrentState(id) == backend.StateProvisioning {
				if err := c.tracker.Transition(id, backend.StateRunning); err != nil {
					return
				}
			}
			c.tracker.MarkHealthy(id)
			if !waitForReadyCondition {
				// Stdio instances become Ready on their first handshake.
				return
			}
			if podIsReady(pod) {
				if err := c.tracker.Transition(id, backend.StateReady); err == nil {
					logger.Infow("instance ready", "instance", id, "pod", podName, "attempts", attempt+1)
				}
				return
			}
		case corev1.PodSucceeded, corev1.PodFailed:
			c.tracker.Fail(id, errors.ErrInternal)
			return
		case corev1.PodPending, corev1.PodUnknown:
			// keep polling
		}

		time.Sleep(c.cfg.ReadinessPollInterval)
	}

	logger.Warnw("pod never became ready", "instance", id, "pod", podName)
	c.tracker.Fail(id, errors.ErrReadinessTimeout)
}

func podIsReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// podFailureCause inspects container statuses for terminal waiting reasons.
func podFailureCause(pod *corev1.Pod) string {
	for _, status := range pod.Status.ContainerStatuses {
		waiting := status.State.Waiting
		if waiting == nil {
			continue
		}
		switch waiting.Reason {
		case "ErrImagePull", "ImagePullBackOff", "InvalidImageName":
			return errors.CauseImagePullFailure
		case "CreateContainerConfigError", "CreateContainerError":
			return errors.ErrInternal
		}
	}
	return ""
}

// apiErrorSubCause maps an API server rejection onto the structured
// creation causes.
func apiErrorSubCause(err error) string {
	switch {
	case apierrors.IsForbidden(err) && strings.Contains(strings.ToLower(err.Error()), "quota"):
		return errors.CauseQuotaExceeded
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		return errors.CausePermissionDenied
	default:
		return ""
	}
}
