package backend

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

// Tracker is the per-backend instance registry. It generates identifiers,
// enforces the lifecycle state machine, and hands out per-identifier locks
// so that create/stop races on the same instance are serialized while
// operations on different instances never block each other.
type Tracker struct {
	mu        sync.Mutex
	instances map[string]*Instance
	locks     map[string]*sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		instances: make(map[string]*Instance),
		locks:     make(map[string]*sync.Mutex),
	}
}

// NewInstance registers a new Pending instance for the given config and
// returns a snapshot of it. Identifiers are UUIDs and are never reused.
func (t *Tracker) NewInstance(tag Tag, cfg ServerConfig) Instance {
	inst := &Instance{
		ID:        uuid.NewString(),
		Tag:       tag,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
		Config:    cfg,
	}

	t.mu.Lock()
	t.instances[inst.ID] = inst
	t.mu.Unlock()

	return *inst
}

// Lock returns the mutual-exclusion guard for one instance identifier,
// creating it on first use. The guard covers the create/stop transition
// only; guards are intentionally never deleted so a late stop still finds
// the same lock.
func (t *Tracker) Lock(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// Get returns a snapshot of the instance, or a not_found error for unknown
// or already-terminated identifiers.
func (t *Tracker) Get(id string) (Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id]
	if !ok {
		return Instance{}, errors.NewNotFoundError("unknown instance "+id, nil)
	}
	return *inst, nil
}

// List returns snapshots of all tracked instances.
func (t *Tracker) List() []Instance {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, *inst)
	}
	return out
}

// SetHandle records the backend-specific handle for an instance.
func (t *Tracker) SetHandle(id, handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inst, ok := t.instances[id]; ok {
		inst.Handle = handle
	}
}

// Transition moves an instance along one legal state machine edge.
// Terminated instances are dropped from the registry so they no longer
// appear in List; their identifiers remain burned for the process lifetime.
func (t *Tracker) Transition(id string, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id]
	if !ok {
		return errors.NewNotFoundError("unknown instance "+id, nil)
	}
	if !CanTransition(inst.State, to) {
		return errors.NewInternalError(
			"illegal state transition "+string(inst.State)+" -> "+string(to)+" for instance "+id, nil)
	}

	logger.Debugw("instance state transition", "instance", id, "from", inst.State, "to", to)
	inst.State = to
	if to == StateTerminated {
		delete(t.instances, id)
	}
	return nil
}

// Drop removes an instance record without walking the state machine. Used
// when deleting an instance that already Failed: the record must not outlive
// the underlying compute unit, but Failed admits no further transitions.
func (t *Tracker) Drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.instances[id]; ok {
		logger.Debugw("instance record dropped", "instance", id)
		delete(t.instances, id)
	}
}

// Fail marks an instance Failed with a structured cause. Failing an
// already-terminal instance is a no-op.
func (t *Tracker) Fail(id, cause string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id]
	if !ok || inst.State.IsTerminal() {
		return
	}
	inst.State = StateFailed
	inst.FailureCause = cause
}

// MarkHealthy records a successful health observation for an instance.
func (t *Tracker) MarkHealthy(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inst, ok := t.instances[id]; ok {
		inst.LastHealthAt = time.Now().UTC()
	}
}

// CurrentState returns the instance's state without treating termination as
// an error; unknown IDs report Terminated since their records are gone.
func (t *Tracker) CurrentState(id string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inst, ok := t.instances[id]; ok {
		return inst.State
	}
	return StateTerminated
}
