package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, DefaultNamespace, cfg.Namespace)
	assert.Equal(t, DefaultListenPort, cfg.ListenPort)
	assert.Equal(t, DefaultPollAttempts, cfg.ReadinessPollAttempts)
	assert.Equal(t, 10*time.Second, cfg.ProbeCacheTTL)
	assert.False(t, cfg.AllowNetwork)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MCPDOCK_NAMESPACE", "staging")
	t.Setenv("MCPDOCK_LISTEN_PORT", "9000")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Namespace)
	assert.Equal(t, 9000, cfg.ListenPort)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("MCPDOCK_LISTEN_PORT", "70000")

	_, err := Load(viper.New())
	assert.Error(t, err)
}

func TestCeilingFor(t *testing.T) {
	cfg := Config{
		ResourceCeilings: map[string]ResourceCeiling{
			"default": {CPULimit: "2", MemoryLimit: "2Gi"},
			"npx":     {CPULimit: "500m", MemoryLimit: "512Mi"},
		},
	}

	assert.Equal(t, "500m", cfg.CeilingFor("npx").CPULimit)
	assert.Equal(t, "2", cfg.CeilingFor("uvx").CPULimit)
}

func TestTransportAllowed(t *testing.T) {
	cfg := Config{}
	assert.True(t, cfg.TransportAllowed("stdio"), "empty allowlist permits everything")

	cfg.TransportAllowlist = []string{"stdio", "sse"}
	assert.True(t, cfg.TransportAllowed("SSE"))
	assert.False(t, cfg.TransportAllowed("websocket"))
}
