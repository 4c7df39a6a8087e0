package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name: "valid npx stdio",
			cfg:  ServerConfig{Kind: KindNpx, Package: "@modelcontextprotocol/server-filesystem", Transport: TransportStdio},
		},
		{
			name: "valid image with port",
			cfg:  ServerConfig{Kind: KindImage, Image: "ghcr.io/example/server:1", Transport: TransportSSE, Port: 8080},
		},
		{
			name: "builtin needs no image or package",
			cfg:  ServerConfig{Kind: KindBuiltin, Transport: TransportStdio},
		},
		{
			name:    "npx without package",
			cfg:     ServerConfig{Kind: KindNpx, Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "uvx without package",
			cfg:     ServerConfig{Kind: KindUvx, Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "image kind without image",
			cfg:     ServerConfig{Kind: KindImage, Transport: TransportHTTP, Port: 9000},
			wantErr: true,
		},
		{
			name:    "http transport without port",
			cfg:     ServerConfig{Kind: KindImage, Image: "x", Transport: TransportHTTP},
			wantErr: true,
		},
		{
			name:    "websocket transport without port",
			cfg:     ServerConfig{Kind: KindUvx, Package: "mcp-server-git", Transport: TransportWebSocket},
			wantErr: true,
		},
		{
			name:    "port out of range",
			cfg:     ServerConfig{Kind: KindImage, Image: "x", Transport: TransportHTTP, Port: 70000},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			cfg:     ServerConfig{Kind: "jar", Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			cfg:     ServerConfig{Kind: KindBuiltin, Transport: "pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStateMachineEdges(t *testing.T) {
	t.Parallel()

	// The forward path visits every state exactly once.
	forward := []State{StatePending, StateProvisioning, StateRunning, StateReady, StateTerminating, StateTerminated}
	for i := 0; i < len(forward)-1; i++ {
		assert.True(t, CanTransition(forward[i], forward[i+1]),
			"%s -> %s should be legal", forward[i], forward[i+1])
	}

	// Failed and Terminating are reachable from every non-terminal state.
	for _, from := range []State{StatePending, StateProvisioning, StateRunning, StateReady} {
		assert.True(t, CanTransition(from, StateFailed))
		assert.True(t, CanTransition(from, StateTerminating))
	}
	assert.True(t, CanTransition(StateTerminating, StateFailed))

	// No state is ever revisited.
	assert.False(t, CanTransition(StateReady, StateRunning))
	assert.False(t, CanTransition(StateRunning, StateProvisioning))
	assert.False(t, CanTransition(StateTerminating, StateReady))

	// Terminal states admit nothing.
	for _, to := range forward {
		assert.False(t, CanTransition(StateTerminated, to))
		assert.False(t, CanTransition(StateFailed, to))
	}
}

func TestStateIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StateTerminated.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateReady.IsTerminal())
	assert.False(t, StateTerminating.IsTerminal())
}

func TestParseServerKind(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"npx", "uvx", "builtin", "image"} {
		kind, err := ParseServerKind(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(kind))
	}

	_, err := ParseServerKind("wasm")
	assert.Error(t, err)
}

func TestTransportIsHTTPFamily(t *testing.T) {
	t.Parallel()

	assert.False(t, TransportStdio.IsHTTPFamily())
	assert.True(t, TransportSSE.IsHTTPFamily())
	assert.True(t, TransportWebSocket.IsHTTPFamily())
	assert.True(t, TransportHTTP.IsHTTPFamily())
}

func TestDisplayNameFallsBackToKind(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{Kind: KindUvx, Package: "mcp-server-git", Transport: TransportStdio}
	assert.Equal(t, "uvx", cfg.DisplayName())

	cfg.Name = "git-tools"
	assert.Equal(t, "git-tools", cfg.DisplayName())
}
