package docker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/mcpdock/mcpdock/pkg/backend"
)

// Labels applied to every container so the backend can recognize its own
// workloads after a restart.
const (
	managedLabel    = "mcpdock"
	instanceLabel   = "mcpdock-instance"
	labelValueTrue  = "true"
	defaultLogTail  = 100
	nanoCPUsPerCore = 1_000_000_000
)

// containerName builds a unique engine-level name for an instance.
func containerName(prefix string, cfg backend.ServerConfig) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", prefix, cfg.DisplayName(), suffix)
}

// workloadConfigs translates a server config into the engine-level container
// and host configuration.
func workloadConfigs(cfg backend.ServerConfig, instanceID string, allowNetwork bool) (*container.Config, *container.HostConfig, error) {
	attachStdio := cfg.Transport == backend.TransportStdio

	containerCfg := &container.Config{
		Image:        backend.RunnerImage(cfg),
		Cmd:          backend.RunnerCommand(cfg),
		Env:          convertEnvVars(cfg.Env),
		Labels:       workloadLabels(instanceID),
		User:         fmt.Sprintf("%d:%d", backend.RunnerUser, backend.RunnerUser),
		AttachStdin:  attachStdio,
		AttachStdout: attachStdio,
		AttachStderr: attachStdio,
		OpenStdin:    attachStdio,
		Tty:          false,
	}

	resources, err := engineResources(cfg.Resources)
	if err != nil {
		return nil, nil, err
	}

	hostCfg := &container.HostConfig{
		Resources:      resources,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		ReadonlyRootfs: backend.ReadOnlyRootFS(cfg.Kind),
		NetworkMode:    networkMode(cfg, allowNetwork),
	}

	if cfg.Transport.IsHTTPFamily() {
		port := nat.Port(fmt.Sprintf("%d/tcp", cfg.Port))
		containerCfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(cfg.Port)}},
		}
	}

	return containerCfg, hostCfg, nil
}

func workloadLabels(instanceID string) map[string]string {
	return map[string]string{
		managedLabel:  labelValueTrue,
		instanceLabel: instanceID,
	}
}

func convertEnvVars(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// networkMode isolates stdio servers entirely unless networking was granted.
// HTTP-family servers always get the bridge since they serve over a port.
func networkMode(cfg backend.ServerConfig, allowNetwork bool) container.NetworkMode {
	if cfg.Transport.IsHTTPFamily() {
		return "bridge"
	}
	if cfg.AllowNetwork && allowNetwork {
		return "bridge"
	}
	return "none"
}

// engineResources converts Kubernetes quantity notation into the engine's
// NanoCPUs and byte counts. Only the limits apply locally; the engine has no
// notion of requests.
func engineResources(r backend.Resources) (container.Resources, error) {
	out := container.Resources{}

	if r.CPULimit != "" {
		nano, err := cpuQuantityToNano(r.CPULimit)
		if err != nil {
			return out, fmt.Errorf("invalid cpu limit %q: %w", r.CPULimit, err)
		}
		out.NanoCPUs = nano
	}
	if r.MemoryLimit != "" {
		bytes, err := memoryQuantityToBytes(r.MemoryLimit)
		if err != nil {
			return out, fmt.Errorf("invalid memory limit %q: %w", r.MemoryLimit, err)
		}
		out.Memory = bytes
	}
	return out, nil
}

// cpuQuantityToNano parses "500m" or "2" into nano-CPUs.
func cpuQuantityToNano(q string) (int64, error) {
	if milli, ok := strings.CutSuffix(q, "m"); ok {
		n, err := strconv.ParseInt(milli, 10, 64)
		if err != nil {
			return 0, err
		}
		return n * (nanoCPUsPerCore / 1000), nil
	}
	cores, err := strconv.ParseFloat(q, 64)
	if err != nil {
		return 0, err
	}
	return int64(cores * nanoCPUsPerCore), nil
}

// memoryQuantityToBytes parses "256Mi", "1Gi", "512M" or a bare byte count.
func memoryQuantityToBytes(q string) (int64, error) {
	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"Ki", 1 << 10},
		{"Mi", 1 << 20},
		{"Gi", 1 << 30},
		{"K", 1000},
		{"M", 1000 * 1000},
		{"G", 1000 * 1000 * 1000},
	}
	for _, m := range multipliers {
		if rest, ok := strings.CutSuffix(q, m.suffix); ok {
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return 0, err
			}
			return n * m.factor, nil
		}
	}
	return strconv.ParseInt(q, 10, 64)
}
