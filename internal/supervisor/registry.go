package supervisor

import (
	"time"

	"github.com/loykin/stackvisor/internal/process"
)

// State of a supervised entry.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
)

// ManagedProcess is the registry entry for one named child. The handle is
// replaced on restart and cleared on shutdown.
type ManagedProcess struct {
	Name     string
	Spec     process.Spec
	Handle   *process.Process
	State    State
	Restarts int
	LastExit error

	pendingRestart bool
	exitedAt       time.Time
}

// restartBudgetLeft reports whether another restart is allowed.
func (m *ManagedProcess) restartBudgetLeft() bool {
	return m.Spec.MaxRestarts == 0 || m.Restarts < m.Spec.MaxRestarts
}

// PendingRestart reports whether a relaunch failed and will be retried.
func (m *ManagedProcess) PendingRestart() bool { return m.pendingRestart }

// Registry maps names to entries and keeps insertion order. It is not safe
// for concurrent use; only the supervisor's control goroutine touches it.
type Registry struct {
	order  []string
	byName map[string]*ManagedProcess
}

func newRegistry() *Registry {
	return &Registry{byName: make(map[string]*ManagedProcess)}
}

func (r *Registry) Get(name string) (*ManagedProcess, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// put inserts m, or replaces an existing entry in place.
func (r *Registry) put(m *ManagedProcess) {
	if _, ok := r.byName[m.Name]; !ok {
		r.order = append(r.order, m.Name)
	}
	r.byName[m.Name] = m
}

// Each visits entries in insertion order.
func (r *Registry) Each(fn func(*ManagedProcess)) {
	for _, name := range r.order {
		fn(r.byName[name])
	}
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int { return len(r.order) }

func (r *Registry) clear() {
	r.order = nil
	r.byName = make(map[string]*ManagedProcess)
}
