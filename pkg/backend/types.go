// Package backend defines the compute-unit backend contract shared by the
// cluster (Kubernetes pod) and local (Docker container) implementations,
// along with the instance records they track.
package backend

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Tag identifies which backend owns an instance.
type Tag string

const (
	// TagCluster marks instances provisioned as Kubernetes pods
	TagCluster Tag = "cluster"
	// TagLocal marks instances provisioned as local containers
	TagLocal Tag = "local"
)

// ServerKind is the tagged variant describing how a server is run.
type ServerKind string

const (
	// KindNpx runs a package through the Node package runner
	KindNpx ServerKind = "npx"
	// KindUvx runs a package through the Python uv runner
	KindUvx ServerKind = "uvx"
	// KindBuiltin runs the built-in core server image
	KindBuiltin ServerKind = "builtin"
	// KindImage runs a caller-supplied container image
	KindImage ServerKind = "image"
)

// ParseServerKind parses a string into a server kind.
func ParseServerKind(s string) (ServerKind, error) {
	switch s {
	case "npx":
		return KindNpx, nil
	case "uvx":
		return KindUvx, nil
	case "builtin":
		return KindBuiltin, nil
	case "image":
		return KindImage, nil
	default:
		return "", fmt.Errorf("unknown server kind: %q", s)
	}
}

// Transport represents the communication transport variant of a server.
type Transport string

const (
	// TransportStdio communicates over the unit's standard streams
	TransportStdio Transport = "stdio"
	// TransportSSE communicates over a server-push event stream
	TransportSSE Transport = "sse"
	// TransportWebSocket communicates over a full-duplex socket
	TransportWebSocket Transport = "websocket"
	// TransportHTTP communicates over plain request/response
	TransportHTTP Transport = "http"
)

// ParseTransport parses a string into a transport variant.
func ParseTransport(s string) (Transport, error) {
	switch s {
	case "stdio":
		return TransportStdio, nil
	case "sse":
		return TransportSSE, nil
	case "websocket":
		return TransportWebSocket, nil
	case "http":
		return TransportHTTP, nil
	default:
		return "", fmt.Errorf("unknown transport: %q", s)
	}
}

// IsHTTPFamily reports whether the transport is served over a network port.
func (t Transport) IsHTTPFamily() bool {
	return t == TransportSSE || t == TransportWebSocket || t == TransportHTTP
}

// Resources holds the CPU and memory bounds for one compute unit, in
// Kubernetes quantity notation. They are copied verbatim into the manifest.
type Resources struct {
	CPURequest    string `json:"cpu_request,omitempty"`
	CPULimit      string `json:"cpu_limit,omitempty"`
	MemoryRequest string `json:"memory_request,omitempty"`
	MemoryLimit   string `json:"memory_limit,omitempty"`
}

// DefaultResources returns the resource bounds applied when a config leaves
// them unset.
func DefaultResources() Resources {
	return Resources{
		CPURequest:    "250m",
		CPULimit:      "500m",
		MemoryRequest: "256Mi",
		MemoryLimit:   "512Mi",
	}
}

// ServerConfig is the immutable description of what to run. It is validated
// once at submission; rejected configs never reach a backend.
type ServerConfig struct {
	Kind         ServerKind        `json:"kind"`
	Name         string            `json:"name,omitempty"`
	Package      string            `json:"package,omitempty"`
	Image        string            `json:"image,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Transport    Transport         `json:"transport"`
	Port         int               `json:"port,omitempty"`
	Resources    Resources         `json:"resources,omitempty"`
	AllowNetwork bool              `json:"allow_network,omitempty"`
}

// Validate checks the structural consistency of the config. Ceiling and
// allowlist checks are the lifecycle facade's job since they depend on
// process configuration.
func (c *ServerConfig) Validate() error {
	if _, err := ParseServerKind(string(c.Kind)); err != nil {
		return err
	}
	if _, err := ParseTransport(string(c.Transport)); err != nil {
		return err
	}
	switch c.Kind {
	case KindNpx, KindUvx:
		if c.Package == "" {
			return fmt.Errorf("package is required for %s servers", c.Kind)
		}
	case KindImage:
		if c.Image == "" {
			return fmt.Errorf("image is required for image servers")
		}
	case KindBuiltin:
		// The builtin image is supplied by the deployment, not the caller.
	}
	if c.Transport.IsHTTPFamily() && c.Port == 0 {
		return fmt.Errorf("port is required for %s transport", c.Transport)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// DisplayName returns the name used in pod/container names.
func (c *ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.Kind)
}

// State is the lifecycle state of an instance. Transitions are monotonic:
// no state is ever revisited.
type State string

const (
	// StatePending is assigned on an accepted create request before any remote call
	StatePending State = "Pending"
	// StateProvisioning covers manifest submission or container creation
	StateProvisioning State = "Provisioning"
	// StateRunning means the process exists but readiness is unconfirmed
	StateRunning State = "Running"
	// StateReady requires an explicit readiness signal
	StateReady State = "Ready"
	// StateTerminating begins on any stop request
	StateTerminating State = "Terminating"
	// StateTerminated is terminal for a cleanly removed instance
	StateTerminated State = "Terminated"
	// StateFailed is terminal and carries a structured cause
	StateFailed State = "Failed"
	// StateNotFound is reported on stop of an unknown or already removed
	// identifier; it is never stored in the registry
	StateNotFound State = "NotFound"
)

// legalTransitions enumerates the allowed state machine edges. Terminating
// and Failed are reachable from every non-terminal state because a stop
// request or a failure may arrive before the unit ever becomes Ready.
var legalTransitions = map[State][]State{
	StatePending:      {StateProvisioning, StateTerminating, StateFailed},
	StateProvisioning: {StateRunning, StateTerminating, StateFailed},
	StateRunning:      {StateReady, StateTerminating, StateFailed},
	StateReady:        {StateTerminating, StateFailed},
	StateTerminating:  {StateTerminated, StateFailed},
}

// CanTransition reports whether moving from one state to another follows a
// legal state machine edge.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateTerminated || s == StateFailed
}

// Instance is the runtime record for one compute unit. It is owned
// exclusively by the backend that created it; other components hold only
// the identifier.
type Instance struct {
	// ID is globally unique across both backends for the process lifetime.
	ID string `json:"id"`
	// Tag identifies the owning backend.
	Tag Tag `json:"backend"`
	// Handle is the underlying pod name or container ID. Opaque to callers.
	Handle string `json:"handle,omitempty"`
	// State is the current lifecycle state.
	State State `json:"state"`
	// FailureCause is set only when State is Failed.
	FailureCause string `json:"cause,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// LastHealthAt is the last time the backend observed the unit healthy.
	LastHealthAt time.Time `json:"last_health_at,omitempty"`
	// Config is a snapshot of the submitted configuration.
	Config ServerConfig `json:"config"`
}

// AttachStreams are the three independent byte streams of a compute unit's
// standard streams, as returned by Backend.AttachInstance.
type AttachStreams struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Backend is the uniform lifecycle contract implemented by the cluster and
// local substrates. Create returns immediately with a Pending/Provisioning
// instance; readiness is observed asynchronously.
type Backend interface {
	// Tag returns the backend's identity tag.
	Tag() Tag

	// CreateInstance provisions a compute unit for the given config.
	CreateInstance(ctx context.Context, cfg ServerConfig) (Instance, error)

	// DeleteInstance tears down the compute unit. Deleting an unknown or
	// already-terminated ID returns an informational not_found error.
	DeleteInstance(ctx context.Context, id string) error

	// GetInstance returns the current instance record.
	GetInstance(ctx context.Context, id string) (Instance, error)

	// ListInstances returns all live instances known to this backend.
	ListInstances(ctx context.Context) ([]Instance, error)

	// AttachInstance attaches to the compute unit's standard streams.
	// Only valid for stdio-transport instances.
	AttachInstance(ctx context.Context, id string) (AttachStreams, error)

	// MarkReady records the readiness signal for a Running instance.
	// HTTP-family backends call this from their own readiness pollers;
	// for stdio instances the caller reports the first completed handshake.
	MarkReady(ctx context.Context, id string) error

	// GetLogs returns the compute unit's recent log output.
	GetLogs(ctx context.Context, id string, tail int) (string, error)

	// CheckHealth probes the substrate's liveness within the given context's
	// deadline.
	CheckHealth(ctx context.Context) error
}
