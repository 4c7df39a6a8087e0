package kube

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/mcpdock/mcpdock/pkg/backend"
)

// Labels applied to every managed pod.
const (
	managedLabel  = "mcpdock"
	instanceLabel = "mcpdock-instance"

	serverContainerName = "mcp-server"
)

// podName builds a DNS-safe unique pod name for an instance.
func podName(prefix string, cfg backend.ServerConfig) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	name := strings.ToLower(fmt.Sprintf("%s-%s-%s", prefix, cfg.DisplayName(), suffix))
	return strings.ReplaceAll(name, "_", "-")
}

// podManifest translates a server config into a single-container pod. Pods
// never restart; lifecycle decisions belong to the orchestrator, not the
// kubelet.
func podManifest(name, namespace, instanceID string, cfg backend.ServerConfig) (*corev1.Pod, error) {
	resources, err := resourceRequirements(cfg.Resources)
	if err != nil {
		return nil, err
	}

	container := corev1.Container{
		Name:      serverContainerName,
		Image:     backend.RunnerImage(cfg),
		Args:      backend.RunnerCommand(cfg),
		Env:       envVars(cfg.Env),
		Resources: resources,
		Stdin:     cfg.Transport == backend.TransportStdio,
		TTY:       false,
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: ptr.To(false),
			RunAsNonRoot:             ptr.To(true),
			RunAsUser:                ptr.To(backend.RunnerUser),
			RunAsGroup:               ptr.To(backend.RunnerUser),
			ReadOnlyRootFilesystem:   ptr.To(backend.ReadOnlyRootFS(cfg.Kind)),
			Capabilities: &corev1.Capabilities{
				Drop: []corev1.Capability{"ALL"},
			},
			SeccompProfile: &corev1.SeccompProfile{
				Type: corev1.SeccompProfileTypeRuntimeDefault,
			},
		},
	}

	if cfg.Transport.IsHTTPFamily() {
		container.Ports = []corev1.ContainerPort{{
			Name:          "mcp",
			ContainerPort: int32(cfg.Port),
			Protocol:      corev1.ProtocolTCP,
		}}
		// The kubelet drives the Ready condition off this probe.
		container.ReadinessProbe = &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromInt32(int32(cfg.Port)),
				},
			},
			InitialDelaySeconds: 1,
			PeriodSeconds:       2,
		}
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				managedLabel:  "true",
				instanceLabel: instanceID,
				"app":         name,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers:    []corev1.Container{container},
		},
	}, nil
}

func envVars(env map[string]string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	return out
}

// resourceRequirements converts the config's quantity strings, substituting
// defaults for anything left unset.
func resourceRequirements(r backend.Resources) (corev1.ResourceRequirements, error) {
	defaults := backend.DefaultResources()
	if r.CPURequest == "" {
		r.CPURequest = defaults.CPURequest
	}
	if r.CPULimit == "" {
		r.CPULimit = defaults.CPULimit
	}
	if r.MemoryRequest == "" {
		r.MemoryRequest = defaults.MemoryRequest
	}
	if r.MemoryLimit == "" {
		r.MemoryLimit = defaults.MemoryLimit
	}

	out := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	for _, q := range []struct {
		value string
		list  corev1.ResourceList
		name  corev1.ResourceName
	}{
		{r.CPURequest, out.Requests, corev1.ResourceCPU},
		{r.CPULimit, out.Limits, corev1.ResourceCPU},
		{r.MemoryRequest, out.Requests, corev1.ResourceMemory},
		{r.MemoryLimit, out.Limits, corev1.ResourceMemory},
	} {
		parsed, err := resource.ParseQuantity(q.value)
		if err != nil {
			return corev1.ResourceRequirements{}, fmt.Errorf("invalid %s quantity %q: %w", q.name, q.value, err)
		}
		q.list[q.name] = parsed
	}
	return out, nil
}
