// Package docker implements the local compute-unit backend on top of a
// Docker or Podman engine reached over its Unix socket.
package docker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/config"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

// Common socket paths
const (
	// PodmanSocketPath is the default Podman socket path
	PodmanSocketPath = "/var/run/podman/podman.sock"
	// PodmanXDGRuntimeSocketPath is the XDG runtime Podman socket path
	PodmanXDGRuntimeSocketPath = "podman/podman.sock"
	// DockerSocketPath is the default Docker socket path
	DockerSocketPath = "/var/run/docker.sock"
	// DockerDesktopMacSocketPath is the Docker Desktop socket path on macOS
	DockerDesktopMacSocketPath = ".docker/run/docker.sock"
)

// Environment variable names
const (
	// DockerSocketEnv is the environment variable for a custom Docker socket path
	DockerSocketEnv = "MCPDOCK_DOCKER_SOCKET"
	// PodmanSocketEnv is the environment variable for a custom Podman socket path
	PodmanSocketEnv = "MCPDOCK_PODMAN_SOCKET"
)

// engineType identifies which container engine the socket belongs to.
type engineType string

const (
	enginePodman engineType = "podman"
	engineDocker engineType = "docker"
)

var supportedEngines = []engineType{enginePodman, engineDocker}

// Client is the local backend. It provisions one container per instance and
// tracks lifecycle state in an in-process registry.
type Client struct {
	engine     engineType
	socketPath string
	client     *client.Client
	tracker    *backend.Tracker
	cfg        config.Config
}

var _ backend.Backend = (*Client)(nil)

// NewClient discovers a container engine socket, Podman first and Docker as
// fallback, and returns a client connected to whichever answered a ping.
func NewClient(ctx context.Context, cfg config.Config) (*Client, error) {
	var lastErr error

	for _, engine := range supportedEngines {
		socketPath, foundEngine, err := findEngineSocket(engine)
		if err != nil {
			logger.Debugf("Failed to find socket for %s: %v", engine, err)
			lastErr = err
			continue
		}

		c, err := NewClientWithSocketPath(ctx, socketPath, foundEngine, cfg)
		if err != nil {
			logger.Debugf("Failed to create client for %s: %v", engine, err)
			lastErr = err
			continue
		}

		return c, nil
	}

	if lastErr != nil {
		return nil, errors.NewBackendUnavailableError("no supported container engine available", lastErr)
	}
	return nil, errors.NewBackendUnavailableError("no supported container engine found/running", nil)
}

// NewClientWithSocketPath creates a client bound to a specific engine socket.
func NewClientWithSocketPath(ctx context.Context, socketPath string, engine engineType, cfg config.Config) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
		client.WithHost("unix://" + socketPath),
	}

	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.NewBackendUnavailableError(fmt.Sprintf("failed to create engine client: %v", err), err)
	}

	c := &Client{
		engine:     engine,
		socketPath: socketPath,
		client:     dockerClient,
		tracker:    backend.NewTracker(),
		cfg:        cfg,
	}

	if err := c.CheckHealth(ctx); err != nil {
		return nil, err
	}
	logger.Debugf("Successfully connected to %s engine", c.engine)

	return c, nil
}

// Tag returns the local backend tag.
func (*Client) Tag() backend.Tag {
	return backend.TagLocal
}

// CheckHealth pings the engine within the context's deadline.
func (c *Client) CheckHealth(ctx context.Context) error {
	if _, err := c.client.Ping(ctx); err != nil {
		return errors.NewBackendUnavailableError(fmt.Sprintf("container engine ping failed: %v", err), err)
	}
	return nil
}

// findEngineSocket locates a socket for the given engine, honoring the
// override environment variables first.
func findEngineSocket(engine engineType) (string, engineType, error) {
	if custom := os.Getenv(PodmanSocketEnv); custom != "" {
		logger.Debugf("Using Podman socket from env: %s", custom)
		if _, err := os.Stat(custom); err != nil {
			return "", enginePodman, fmt.Errorf("invalid Podman socket path: %w", err)
		}
		return custom, enginePodman, nil
	}

	if custom := os.Getenv(DockerSocketEnv); custom != "" {
		logger.Debugf("Using Docker socket from env: %s", custom)
		if _, err := os.Stat(custom); err != nil {
			return "", engineDocker, fmt.Errorf("invalid Docker socket path: %w", err)
		}
		return custom, engineDocker, nil
	}

	if engine == enginePodman {
		if _, err := os.Stat(PodmanSocketPath); err == nil {
			return PodmanSocketPath, enginePodman, nil
		}
		if xdgRuntimeDir := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntimeDir != "" {
			p := filepath.Join(xdgRuntimeDir, PodmanXDGRuntimeSocketPath)
			if _, err := os.Stat(p); err == nil {
				return p, enginePodman, nil
			}
		}
		if home := os.Getenv("HOME"); home != "" {
			p := filepath.Join(home, ".local/share/containers/podman/machine/podman.sock")
			if _, err := os.Stat(p); err == nil {
				return p, enginePodman, nil
			}
		}
		return "", enginePodman, fmt.Errorf("no Podman socket found")
	}

	if _, err := os.Stat(DockerSocketPath); err == nil {
		return DockerSocketPath, engineDocker, nil
	}
	if home := os.Getenv("HOME"); home != "" {
		p := filepath.Join(home, DockerDesktopMacSocketPath)
		if _, err := os.Stat(p); err == nil {
			return p, engineDocker, nil
		}
	}
	return "", engineDocker, fmt.Errorf("no Docker socket found")
}
