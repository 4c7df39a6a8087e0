// Package config assembles the process configuration for mcpdock.
//
// The configuration is built once at startup and passed by value into every
// component constructor; no component reads ambient configuration during
// operation. Values only affect manifest generation and validation ceilings,
// never lifecycle logic.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values applied when neither flags nor environment provide one.
const (
	DefaultNamespace      = "mcpdock"
	DefaultListenHost     = "127.0.0.1"
	DefaultListenPort     = 8053
	DefaultPollInterval   = 2 * time.Second
	DefaultPollAttempts   = 30
	DefaultProbeTimeout   = 5 * time.Second
	DefaultProbeCacheTTL  = 10 * time.Second
	DefaultPodNamePrefix  = "mcp"
	DefaultStopTimeout    = 30 * time.Second
	DefaultSessionBuffer  = 100
	DefaultReattachTries  = 5
	DefaultRequestTimeout = 30 * time.Second
)

// ResourceCeiling caps the CPU and memory a single server may request.
// Quantities use Kubernetes notation ("500m", "512Mi").
type ResourceCeiling struct {
	CPULimit    string
	MemoryLimit string
}

// Config is the full configuration for the orchestration core.
type Config struct {
	// Namespace is the Kubernetes namespace compute units are created in.
	Namespace string

	// ListenHost and ListenPort are the bind address of the lifecycle API.
	ListenHost string
	ListenPort int

	// PodNamePrefix prefixes every pod and container name.
	PodNamePrefix string

	// ResourceCeilings caps resource bounds per server kind. A kind missing
	// from the map falls back to the "default" entry.
	ResourceCeilings map[string]ResourceCeiling

	// TransportAllowlist restricts which transport variants may be started.
	// Empty means all variants are allowed.
	TransportAllowlist []string

	// AllowNetwork globally gates outbound network access for compute units.
	AllowNetwork bool

	// ReadinessPollInterval and ReadinessPollAttempts bound the readiness
	// poll loop; exhausting the attempts fails the instance.
	ReadinessPollInterval time.Duration
	ReadinessPollAttempts int

	// ProbeTimeout bounds a single backend health probe.
	ProbeTimeout time.Duration

	// ProbeCacheTTL is how long a probe verdict is reused before re-probing.
	ProbeCacheTTL time.Duration

	// StopTimeout bounds graceful compute unit shutdown.
	StopTimeout time.Duration

	// ReattachAttempts bounds stream bridge reconnection.
	ReattachAttempts int

	// RequestTimeout bounds every remote call made by the backends.
	RequestTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", DefaultNamespace)
	v.SetDefault("listen-host", DefaultListenHost)
	v.SetDefault("listen-port", DefaultListenPort)
	v.SetDefault("pod-name-prefix", DefaultPodNamePrefix)
	v.SetDefault("transport-allowlist", []string{})
	v.SetDefault("allow-network", false)
	v.SetDefault("readiness-poll-interval", DefaultPollInterval)
	v.SetDefault("readiness-poll-attempts", DefaultPollAttempts)
	v.SetDefault("probe-timeout", DefaultProbeTimeout)
	v.SetDefault("probe-cache-ttl", DefaultProbeCacheTTL)
	v.SetDefault("stop-timeout", DefaultStopTimeout)
	v.SetDefault("reattach-attempts", DefaultReattachTries)
	v.SetDefault("request-timeout", DefaultRequestTimeout)
	v.SetDefault("ceiling-cpu", "2")
	v.SetDefault("ceiling-memory", "2Gi")
}

// Load assembles a Config from the given viper instance, layering
// MCPDOCK_-prefixed environment variables over defaults.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix("MCPDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Namespace:             v.GetString("namespace"),
		ListenHost:            v.GetString("listen-host"),
		ListenPort:            v.GetInt("listen-port"),
		PodNamePrefix:         v.GetString("pod-name-prefix"),
		TransportAllowlist:    v.GetStringSlice("transport-allowlist"),
		AllowNetwork:          v.GetBool("allow-network"),
		ReadinessPollInterval: v.GetDuration("readiness-poll-interval"),
		ReadinessPollAttempts: v.GetInt("readiness-poll-attempts"),
		ProbeTimeout:          v.GetDuration("probe-timeout"),
		ProbeCacheTTL:         v.GetDuration("probe-cache-ttl"),
		StopTimeout:           v.GetDuration("stop-timeout"),
		ReattachAttempts:      v.GetInt("reattach-attempts"),
		RequestTimeout:        v.GetDuration("request-timeout"),
		ResourceCeilings: map[string]ResourceCeiling{
			"default": {
				CPULimit:    v.GetString("ceiling-cpu"),
				MemoryLimit: v.GetString("ceiling-memory"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	}
	if c.ReadinessPollAttempts <= 0 {
		return fmt.Errorf("readiness poll attempts must be positive")
	}
	if c.ReadinessPollInterval <= 0 {
		return fmt.Errorf("readiness poll interval must be positive")
	}
	return nil
}

// CeilingFor returns the resource ceiling for a server kind, falling back to
// the default ceiling when the kind has no dedicated entry.
func (c Config) CeilingFor(kind string) ResourceCeiling {
	if ceiling, ok := c.ResourceCeilings[kind]; ok {
		return ceiling
	}
	return c.ResourceCeilings["default"]
}

// TransportAllowed reports whether the given transport variant may be used.
func (c Config) TransportAllowed(transport string) bool {
	if len(c.TransportAllowlist) == 0 {
		return true
	}
	for _, t := range c.TransportAllowlist {
		if strings.EqualFold(t, transport) {
			return true
		}
	}
	return false
}
