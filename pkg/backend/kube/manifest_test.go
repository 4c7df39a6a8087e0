package kube

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/mcpdock/mcpdock/pkg/backend"
)

func TestPodManifestStdio(t *testing.T) {
	t.Parallel()

	cfg := backend.ServerConfig{
		Kind:      backend.KindNpx,
		Package:   "@modelcontextprotocol/server-memory",
		Transport: backend.TransportStdio,
		Env:       map[string]string{"LOG_LEVEL": "debug"},
	}

	pod, err := podManifest("mcp-npx-abc", "mcpdock", "inst-1", cfg)
	require.NoError(t, err)

	assert.Equal(t, "mcp-npx-abc", pod.Name)
	assert.Equal(t, "mcpdock", pod.Namespace)
	assert.Equal(t, "true", pod.Labels[managedLabel])
	assert.Equal(t, "inst-1", pod.Labels[instanceLabel])
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)

	require.Len(t, pod.Spec.Containers, 1)
	c := pod.Spec.Containers[0]
	assert.Equal(t, serverContainerName, c.Name)
	assert.Equal(t, backend.NpxRunnerImage, c.Image)
	assert.Equal(t, []string{"npx", "-y", "@modelcontextprotocol/server-memory"}, c.Args)
	assert.True(t, c.Stdin)
	assert.False(t, c.TTY)
	assert.Nil(t, c.ReadinessProbe)
	assert.Empty(t, c.Ports)

	require.NotNil(t, c.SecurityContext)
	assert.False(t, *c.SecurityContext.AllowPrivilegeEscalation)
	assert.Contains(t, c.SecurityContext.Capabilities.Drop, corev1.Capability("ALL"))
	assert.True(t, *c.SecurityContext.RunAsNonRoot)
	assert.Equal(t, backend.RunnerUser, *c.SecurityContext.RunAsUser)
	assert.Equal(t, backend.RunnerUser, *c.SecurityContext.RunAsGroup)
	// npx fetches its package at start and needs a writable root.
	assert.False(t, *c.SecurityContext.ReadOnlyRootFilesystem)

	assert.Equal(t, []corev1.EnvVar{{Name: "LOG_LEVEL", Value: "debug"}}, c.Env)
}

func TestPodManifestImageKindReadOnlyRoot(t *testing.T) {
	t.Parallel()

	cfg := backend.ServerConfig{
		Kind:      backend.KindImage,
		Image:     "ghcr.io/example/server:1",
		Transport: backend.TransportStdio,
	}

	pod, err := podManifest("mcp-img-abc", "mcpdock", "inst-2", cfg)
	require.NoError(t, err)

	sc := pod.Spec.Containers[0].SecurityContext
	require.NotNil(t, sc)
	assert.True(t, *sc.RunAsNonRoot)
	assert.True(t, *sc.ReadOnlyRootFilesystem)
}

func TestPodManifestHTTPFamily(t *testing.T) {
	t.Parallel()

	cfg := backend.ServerConfig{
		Kind:      backend.KindImage,
		Image:     "ghcr.io/example/server:1",
		Transport: backend.TransportHTTP,
		Port:      8931,
	}

	pod, err := podManifest("mcp-image-def", "mcpdock", "inst-2", cfg)
	require.NoError(t, err)

	c := pod.Spec.Containers[0]
	assert.False(t, c.Stdin)
	require.Len(t, c.Ports, 1)
	assert.Equal(t, int32(8931), c.Ports[0].ContainerPort)

	require.NotNil(t, c.ReadinessProbe)
	require.NotNil(t, c.ReadinessProbe.TCPSocket)
	assert.Equal(t, int32(8931), c.ReadinessProbe.TCPSocket.Port.IntVal)
}

func TestPodManifestResourceDefaults(t *testing.T) {
	t.Parallel()

	cfg := backend.ServerConfig{Kind: backend.KindBuiltin, Transport: backend.TransportStdio}

	pod, err := podManifest("mcp-builtin-aaa", "mcpdock", "inst-3", cfg)
	require.NoError(t, err)

	res := pod.Spec.Containers[0].Resources
	assert.Equal(t, resource.MustParse("250m"), res.Requests[corev1.ResourceCPU])
	assert.Equal(t, resource.MustParse("500m"), res.Limits[corev1.ResourceCPU])
	assert.Equal(t, resource.MustParse("256Mi"), res.Requests[corev1.ResourceMemory])
	assert.Equal(t, resource.MustParse("512Mi"), res.Limits[corev1.ResourceMemory])
}

func TestPodManifestRejectsBadQuantity(t *testing.T) {
	t.Parallel()

	cfg := backend.ServerConfig{
		Kind:      backend.KindBuiltin,
		Transport: backend.TransportStdio,
		Resources: backend.Resources{CPULimit: "many"},
	}

	_, err := podManifest("mcp-builtin-bbb", "mcpdock", "inst-4", cfg)
	assert.Error(t, err)
}

func TestPodNameIsDNSSafe(t *testing.T) {
	t.Parallel()

	cfg := backend.ServerConfig{Kind: backend.KindUvx, Package: "x", Name: "My_Server", Transport: backend.TransportStdio}

	name := podName("mcp", cfg)
	assert.True(t, strings.HasPrefix(name, "mcp-my-server-"))
	assert.Equal(t, strings.ToLower(name), name)
	assert.NotContains(t, name, "_")

	assert.NotEqual(t, name, podName("mcp", cfg))
}
