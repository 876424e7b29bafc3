package supervisor

import "time"

// Status is an immutable snapshot row of one entry.
type Status struct {
	Name           string     `json:"name"`
	PID            int        `json:"pid"`
	State          State      `json:"state"`
	Restarts       int        `json:"restarts"`
	RestartOnExit  bool       `json:"restart_on_exit"`
	PendingRestart bool       `json:"pending_restart,omitempty"`
	Command        string     `json:"command"`
	StartedAt      time.Time  `json:"started_at"`
	ExitedAt       *time.Time `json:"exited_at,omitempty"`
	LastExit       string     `json:"last_exit,omitempty"`
}

// View is what the supervisor publishes after every registry mutation.
type View struct {
	At        time.Time `json:"at"`
	Processes []Status  `json:"processes"`
}

func statusOf(m *ManagedProcess) Status {
	st := Status{
		Name:           m.Name,
		State:          m.State,
		Restarts:       m.Restarts,
		RestartOnExit:  m.Spec.RestartOnExit,
		PendingRestart: m.pendingRestart,
		Command:        m.Spec.CommandLine(),
	}
	if m.Handle != nil {
		st.PID = m.Handle.PID()
		st.StartedAt = m.Handle.StartedAt()
	}
	if m.State == StateExited && !m.exitedAt.IsZero() {
		t := m.exitedAt
		st.ExitedAt = &t
	}
	if m.LastExit != nil {
		st.LastExit = m.LastExit.Error()
	}
	return st
}
