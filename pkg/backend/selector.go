package backend

import (
	"context"
	"sync"
	"time"

	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

// Selector routes lifecycle calls to the live backend. It prefers the
// cluster backend when its liveness probe succeeds, falling back to the
// local backend otherwise. The cluster verdict is cached for a short TTL so
// the selector re-evaluates per call without probing on every call.
type Selector struct {
	cluster Backend
	local   Backend

	probeTimeout time.Duration
	cacheTTL     time.Duration

	// now is replaceable in tests.
	now func() time.Time

	mu             sync.Mutex
	lastProbeAt    time.Time
	clusterHealthy bool
	current        Tag
}

// NewSelector creates a selector over the two backends. Either backend may
// be nil when the substrate is known to be absent (e.g. no cluster config);
// a nil backend is treated as permanently unhealthy.
func NewSelector(cluster, local Backend, probeTimeout, cacheTTL time.Duration) *Selector {
	return &Selector{
		cluster:      cluster,
		local:        local,
		probeTimeout: probeTimeout,
		cacheTTL:     cacheTTL,
		now:          time.Now,
	}
}

// Pick returns the backend to use for the next lifecycle call.
// When neither backend is available the call fails with
// backend_unavailable; there is no third fallback.
func (s *Selector) Pick(ctx context.Context) (Backend, error) {
	if s.clusterAvailable(ctx) {
		s.noteSelection(TagCluster)
		return s.cluster, nil
	}

	if s.local != nil && s.probe(ctx, s.local) {
		s.noteSelection(TagLocal)
		return s.local, nil
	}

	return nil, errors.NewBackendUnavailableError("no healthy backend available", nil)
}

// Current returns the tag of the most recently selected backend, or an
// empty tag before the first successful selection.
func (s *Selector) Current() Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Selector) clusterAvailable(ctx context.Context) bool {
	if s.cluster == nil {
		return false
	}

	s.mu.Lock()
	fresh := s.now().Sub(s.lastProbeAt) < s.cacheTTL && !s.lastProbeAt.IsZero()
	verdict := s.clusterHealthy
	s.mu.Unlock()

	if fresh {
		return verdict
	}

	healthy := s.probe(ctx, s.cluster)

	s.mu.Lock()
	s.lastProbeAt = s.now()
	s.clusterHealthy = healthy
	s.mu.Unlock()

	return healthy
}

func (s *Selector) probe(ctx context.Context, b Backend) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	if err := b.CheckHealth(probeCtx); err != nil {
		logger.Debugw("backend health probe failed", "backend", b.Tag(), "error", err)
		return false
	}
	return true
}

// noteSelection logs a single transition event when the chosen backend
// changes, not on every call.
func (s *Selector) noteSelection(tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == tag {
		return
	}
	if s.current == "" {
		logger.Infow("backend selected", "backend", tag)
	} else {
		logger.Infow("backend changed", "from", s.current, "to", tag)
	}
	s.current = tag
}
