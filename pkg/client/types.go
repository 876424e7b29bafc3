package client

import "time"

// ProcessStatus mirrors one row of GET /status.
type ProcessStatus struct {
	Name           string     `json:"name"`
	PID            int        `json:"pid"`
	State          string     `json:"state"`
	Restarts       int        `json:"restarts"`
	RestartOnExit  bool       `json:"restart_on_exit"`
	PendingRestart bool       `json:"pending_restart,omitempty"`
	Command        string     `json:"command"`
	StartedAt      time.Time  `json:"started_at"`
	ExitedAt       *time.Time `json:"exited_at,omitempty"`
	LastExit       string     `json:"last_exit,omitempty"`
}

// Running reports whether the supervisor last saw the process running.
func (s ProcessStatus) Running() bool { return s.State == "running" }

// View is the full GET /status response.
type View struct {
	At        time.Time       `json:"at"`
	Processes []ProcessStatus `json:"processes"`
}

// Health is the GET /healthz response.
type Health struct {
	OK      bool     `json:"ok"`
	Running int      `json:"running"`
	Total   int      `json:"total"`
	Down    []string `json:"down,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
