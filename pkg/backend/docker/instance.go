package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

// CreateInstance provisions a container for the given config. It returns as
// soon as the container is started; HTTP-family readiness is observed by a
// background poller and stdio readiness by the caller's first handshake.
func (c *Client) CreateInstance(ctx context.Context, cfg backend.ServerConfig) (backend.Instance, error) {
	inst := c.tracker.NewInstance(backend.TagLocal, cfg)

	lock := c.tracker.Lock(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.tracker.Transition(inst.ID, backend.StateProvisioning); err != nil {
		return backend.Instance{}, err
	}

	containerCfg, hostCfg, err := workloadConfigs(cfg, inst.ID, c.cfg.AllowNetwork)
	if err != nil {
		c.tracker.Fail(inst.ID, errors.ErrConfigValidation)
		return backend.Instance{}, errors.NewConfigValidationError(err.Error(), err)
	}

	if err := c.ensureImage(ctx, containerCfg.Image); err != nil {
		c.tracker.Fail(inst.ID, errors.CauseImagePullFailure)
		return backend.Instance{}, err
	}

	name := containerName(c.cfg.PodNamePrefix, cfg)
	resp, err := c.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		cause := creationSubCause(err)
		c.tracker.Fail(inst.ID, cause)
		return backend.Instance{}, errors.NewPodCreationError(cause,
			fmt.Sprintf("failed to create container: %v", err), err)
	}
	c.tracker.SetHandle(inst.ID, resp.ID)

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		cause := creationSubCause(err)
		c.tracker.Fail(inst.ID, cause)
		return backend.Instance{}, errors.NewPodCreationError(cause,
			fmt.Sprintf("failed to start container: %v", err), err)
	}

	if err := c.tracker.Transition(inst.ID, backend.StateRunning); err != nil {
		return backend.Instance{}, err
	}
	logger.Infow("container started", "instance", inst.ID, "container", resp.ID, "name", name)

	if cfg.Transport.IsHTTPFamily() {
		go c.awaitHTTPReady(inst.ID, cfg.Port)
	}

	return c.tracker.Get(inst.ID)
}

// DeleteInstance stops and removes the container. Unknown and already
// terminated identifiers yield an informational not_found error.
func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	lock := c.tracker.Lock(id)
	lock.Lock()
	defer lock.Unlock()

	inst, err := c.tracker.Get(id)
	if err != nil {
		return err
	}

	// A Failed instance is already terminal, so the Terminating edge does
	// not apply; the container is still removed and the record dropped so
	// the identifier stops appearing in List.
	failed := inst.State == backend.StateFailed
	if !failed {
		if err := c.tracker.Transition(id, backend.StateTerminating); err != nil {
			return err
		}
	}

	if inst.Handle != "" {
		timeout := int(c.cfg.StopTimeout / time.Second)
		if err := c.client.ContainerStop(ctx, inst.Handle, container.StopOptions{Timeout: &timeout}); err != nil {
			if !client.IsErrNotFound(err) {
				c.tracker.Fail(id, errors.ErrInternal)
				return errors.NewInternalError(fmt.Sprintf("failed to stop container: %v", err), err)
			}
		}
		if err := c.client.ContainerRemove(ctx, inst.Handle, container.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				c.tracker.Fail(id, errors.ErrInternal)
				return errors.NewInternalError(fmt.Sprintf("failed to remove container: %v", err), err)
			}
		}
	}

	logger.Infow("container removed", "instance", id, "container", inst.Handle)
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

// ListInstances returns all live local instances.
func (c *Client) ListInstances(_ context.Context) ([]backend.Instance, error) {
	return c.tracker.List(), nil
}

// AttachInstance attaches to the container's standard streams. The engine
// multiplexes stdout and stderr over one connection, so the two read sides
// are demultiplexed through pipes.
func (c *Client) AttachInstance(ctx context.Context, id string) (backend.AttachStreams, error) {
	inst, err := c.tracker.Get(id)
	if err != nil {
		return backend.AttachStreams{}, err
	}
	if inst.Config.Transport != backend.TransportStdio {
		return backend.AttachStreams{}, errors.NewUnsupportedOperationError(
			fmt.Sprintf("attach requires stdio transport, instance uses %s", inst.Config.Transport), nil)
	}

	resp, err := c.client.ContainerAttach(ctx, inst.Handle, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return backend.AttachStreams{}, errors.NewStreamError(
			fmt.Sprintf("failed to attach to container: %v", err), err)
	}

	stdoutRead, stdoutWrite := io.Pipe()
	stderrRead, stderrWrite := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(stdoutWrite, stderrWrite, resp.Reader)
		stdoutWrite.CloseWithError(err)
		stderrWrite.CloseWithError(err)
	}()

	return backend.AttachStreams{
		Stdin:  resp.Conn,
		Stdout: stdoutRead,
		Stderr: stderrRead,
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

// GetLogs returns the container's recent combined output.
func (c *Client) GetLogs(ctx context.Context, id string, tail int) (string, error) {
	inst, err := c.tracker.Get(id)
	if err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = defaultLogTail
	}

	logs, err := c.client.ContainerLogs(ctx, inst.Handle, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", errors.NewInternalError(fmt.Sprintf("failed to get container logs: %v", err), err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return "", errors.NewInternalError(fmt.Sprintf("failed to read container logs: %v", err), err)
	}
	return buf.String(), nil
}

// ensureImage pulls the image when it is not already present locally.
func (c *Client) ensureImage(ctx context.Context, imageName string) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("reference", imageName)

	images, err := c.client.ImageList(ctx, dockerimage.ListOptions{Filters: filterArgs})
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to list images: %v", err), err)
	}
	if len(images) > 0 {
		return nil
	}

	logger.Infof("Pulling image: %s", imageName)
	reader, err := c.client.ImagePull(ctx, imageName, dockerimage.PullOptions{})
	if err != nil {
		return errors.NewPodCreationError(errors.CauseImagePullFailure,
			fmt.Sprintf("failed to pull image %s: %v", imageName, err), err)
	}
	defer reader.Close()

	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return errors.NewPodCreationError(errors.CauseImagePullFailure,
			fmt.Sprintf("failed to pull image %s: %v", imageName, err), err)
	}
	return nil
}

// awaitHTTPReady polls the instance's published port until it answers or
// the attempt budget runs out.
func (c *Client) awaitHTTPReady(id string, port int) {
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	httpClient := &http.Client{Timeout: c.cfg.ReadinessPollInterval}

	for attempt := 0; attempt < c.cfg.ReadinessPollAttempts; attempt++ {
		if c.tracker.CurrentState(id) != backend.StateRunning {
			return
		}

		resp, err := httpClient.Get(url)
		if err == nil {
			resp.Body.Close()
			c.tracker.MarkHealthy(id)
			if err := c.tracker.Transition(id, backend.StateReady); err == nil {
				logger.Infow("instance ready", "instance", id, "attempts", attempt+1)
			}
			return
		}

		time.Sleep(c.cfg.ReadinessPollInterval)
	}

	logger.Warnw("instance never became ready", "instance", id, "port", port)
	c.tracker.Fail(id, errors.ErrReadinessTimeout)
}

// creationSubCause maps an engine error onto the structured creation causes.
func creationSubCause(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no space") || strings.Contains(msg, "quota"):
		return errors.CauseQuotaExceeded
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied"):
		return errors.CausePermissionDenied
	case strings.Contains(msg, "pull access denied") || strings.Contains(msg, "manifest unknown") ||
		strings.Contains(msg, "no such image"):
		return errors.CauseImagePullFailure
	default:
		return ""
	}
}
