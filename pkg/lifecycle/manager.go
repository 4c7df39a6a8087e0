// Package lifecycle is the facade over the compute-unit backends. It
// validates requests before they reach a substrate, routes them through the
// backend selector and owns session establishment for stdio servers.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/bridge"
	"github.com/mcpdock/mcpdock/pkg/config"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

const clientName = "mcpdock"

// Manager coordinates server lifecycle across both backends.
type Manager struct {
	selector *backend.Selector
	backends []backend.Backend
	cfg      config.Config
	version  string

	// sessions tracks the live bridge per instance, one at most.
	sessMu   sync.Mutex
	sessions map[string]*bridge.Bridge
}

// NewManager creates a manager over the selector and the concrete backends
// it selects between. Nil backends are skipped.
func NewManager(selector *backend.Selector, cfg config.Config, version string, backends ...backend.Backend) *Manager {
	m := &Manager{
		selector: selector,
		cfg:      cfg,
		version:  version,
		sessions: make(map[string]*bridge.Bridge),
	}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Start validates the config and provisions a compute unit on the selected
// backend. Validation failures never reach a substrate.
func (m *Manager) Start(ctx context.Context, cfg backend.ServerConfig) (backend.Instance, error) {
	if err := m.validate(cfg); err != nil {
		return backend.Instance{}, err
	}

	b, err := m.selector.Pick(ctx)
	if err != nil {
		return backend.Instance{}, err
	}

	inst, err := b.CreateInstance(ctx, cfg)
	if err != nil {
		return backend.Instance{}, err
	}

	// A caller that gave up mid-create should not leak a compute unit.
	if ctx.Err() != nil {
		go func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
			defer cancel()
			if err := b.DeleteInstance(cleanupCtx, inst.ID); err != nil && !errors.IsNotFound(err) {
				logger.Warnw("failed to clean up cancelled start", "instance", inst.ID, "error", err)
			}
		}()
		return backend.Instance{}, errors.NewInternalError("start cancelled", ctx.Err())
	}

	logger.Infow("server started", "instance", inst.ID, "backend", inst.Tag, "kind", cfg.Kind, "transport", cfg.Transport)
	return inst, nil
}

// Stop tears the instance down wherever it lives, closing its session
// first. Stopping an unknown or already-terminated identifier reports
// not_found.
func (m *Manager) Stop(ctx context.Context, id string) error {
	b, err := m.owner(ctx, id)
	if err != nil {
		return err
	}
	m.closeSession(id)
	return b.DeleteInstance(ctx, id)
}

// Status returns the instance record wherever it lives.
func (m *Manager) Status(ctx context.Context, id string) (backend.Instance, error) {
	b, err := m.owner(ctx, id)
	if err != nil {
		return backend.Instance{}, err
	}
	return b.GetInstance(ctx, id)
}

// List returns the live instances of the currently selected backend.
func (m *Manager) List(ctx context.Context) ([]backend.Instance, error) {
	b, err := m.selector.Pick(ctx)
	if err != nil {
		return nil, err
	}
	return b.ListInstances(ctx)
}

// Logs returns the tail of the instance's log output.
func (m *Manager) Logs(ctx context.Context, id string, tail int) (string, error) {
	b, err := m.owner(ctx, id)
	if err != nil {
		return "", err
	}
	return b.GetLogs(ctx, id, tail)
}

// OpenSession attaches to a stdio instance, performs the initialize
// handshake and returns the live bridge. The first completed handshake
// marks the instance Ready. An instance holds at most one live session;
// opening a second while one is open is rejected.
func (m *Manager) OpenSession(ctx context.Context, id string) (*bridge.Bridge, error) {
	return m.openSession(ctx, id, false)
}

// Execute relays one protocol message through the instance's session and
// returns the server's response. The session is opened on first use and
// reused afterwards.
func (m *Manager) Execute(ctx context.Context, id string, msg *protocol.Message) (*protocol.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, errors.NewConfigValidationError(err.Error(), err)
	}

	br, err := m.openSession(ctx, id, true)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return br.Call(callCtx, msg)
}

func (m *Manager) openSession(ctx context.Context, id string, reuse bool) (*bridge.Bridge, error) {
	b, err := m.owner(ctx, id)
	if err != nil {
		return nil, err
	}

	inst, err := b.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Config.Transport != backend.TransportStdio {
		return nil, errors.NewUnsupportedOperationError(
			fmt.Sprintf("sessions require stdio transport, instance uses %s", inst.Config.Transport), nil)
	}

	br := bridge.New(func(attachCtx context.Context) (backend.AttachStreams, error) {
		return b.AttachInstance(attachCtx, id)
	}, m.cfg.ReattachAttempts)

	m.sessMu.Lock()
	if live, ok := m.sessions[id]; ok && !live.Closed() {
		m.sessMu.Unlock()
		if reuse {
			return live, nil
		}
		return nil, errors.NewUnsupportedOperationError("a session is already open for instance "+id, nil)
	}
	m.sessions[id] = br
	m.sessMu.Unlock()

	// The session must survive the opening request; only Close, Stop or an
	// exhausted reattach budget end it.
	if err := br.Start(context.WithoutCancel(ctx)); err != nil {
		m.dropSession(id, br)
		return nil, err
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	if _, err := br.Handshake(handshakeCtx, clientName, m.version); err != nil {
		m.dropSession(id, br)
		br.Close()
		return nil, err
	}

	if err := b.MarkReady(ctx, id); err != nil {
		logger.Debugw("readiness signal not recorded", "instance", id, "error", err)
	}
	return br, nil
}

// closeSession closes the instance's live session, if any. A session never
// outlives its instance.
func (m *Manager) closeSession(id string) {
	m.sessMu.Lock()
	br, ok := m.sessions[id]
	delete(m.sessions, id)
	m.sessMu.Unlock()
	if ok {
		br.Close()
	}
}

func (m *Manager) dropSession(id string, br *bridge.Bridge) {
	m.sessMu.Lock()
	if m.sessions[id] == br {
		delete(m.sessions, id)
	}
	m.sessMu.Unlock()
}

// StopAll stops every live instance on every backend, in parallel, closing
// open sessions first.
func (m *Manager) StopAll(ctx context.Context) error {
	m.sessMu.Lock()
	open := make([]*bridge.Bridge, 0, len(m.sessions))
	for id, br := range m.sessions {
		open = append(open, br)
		delete(m.sessions, id)
	}
	m.sessMu.Unlock()
	for _, br := range open {
		br.Close()
	}

	group, ctx := errgroup.WithContext(ctx)

	for _, b := range m.backends {
		instances, err := b.ListInstances(ctx)
		if err != nil {
			continue
		}
		for _, inst := range instances {
			group.Go(func() error {
				if err := b.DeleteInstance(ctx, inst.ID); err != nil && !errors.IsNotFound(err) {
					return err
				}
				return nil
			})
		}
	}
	return group.Wait()
}

// owner finds the backend holding a live record for the identifier.
func (m *Manager) owner(ctx context.Context, id string) (backend.Backend, error) {
	for _, b := range m.backends {
		if _, err := b.GetInstance(ctx, id); err == nil {
			return b, nil
		}
	}
	return nil, errors.NewNotFoundError("unknown instance "+id, nil)
}

// validate applies the process-level policy a structural Validate cannot
// know about: the transport allowlist and the per-kind resource ceilings.
func (m *Manager) validate(cfg backend.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.NewConfigValidationError(err.Error(), err)
	}

	if !m.cfg.TransportAllowed(string(cfg.Transport)) {
		return errors.NewConfigValidationError(
			fmt.Sprintf("transport %s is not allowed", cfg.Transport), nil)
	}

	ceiling := m.cfg.CeilingFor(string(cfg.Kind))
	requested := cfg.Resources
	if requested.CPULimit == "" || requested.MemoryLimit == "" {
		defaults := backend.DefaultResources()
		if requested.CPULimit == "" {
			requested.CPULimit = defaults.CPULimit
		}
		if requested.MemoryLimit == "" {
			requested.MemoryLimit = defaults.MemoryLimit
		}
	}

	if err := withinCeiling(requested.CPULimit, ceiling.CPULimit, "cpu"); err != nil {
		return err
	}
	return withinCeiling(requested.MemoryLimit, ceiling.MemoryLimit, "memory")
}

func withinCeiling(requested, ceiling, what string) error {
	if ceiling == "" {
		return nil
	}
	req, err := resource.ParseQuantity(requested)
	if err != nil {
		return errors.NewConfigValidationError(fmt.Sprintf("invalid %s limit %q", what, requested), err)
	}
	limit, err := resource.ParseQuantity(ceiling)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("invalid %s ceiling %q", what, ceiling), err)
	}
	if req.Cmp(limit) > 0 {
		return errors.NewConfigValidationError(
			fmt.Sprintf("%s limit %s exceeds ceiling %s", what, requested, ceiling), nil)
	}
	return nil
}
