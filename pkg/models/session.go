package models

import "time"

// SessionStatus represents the current state of a remote compute session
type SessionStatus string

const (
	StatusStarting SessionStatus = "starting"
	StatusRunning  SessionStatus = "running"
	StatusStopping SessionStatus = "stopping"
	StatusStopped  SessionStatus = "stopped"
	StatusError    SessionStatus = "error"
)

// Valid reports whether s is one of the statuses the API transmits
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusStopping, StatusStopped, StatusError:
		return true
	}
	return false
}

// IsTransitioning reports whether the orchestrator is expected to move the
// session on without further user action.
func (s SessionStatus) IsTransitioning() bool {
	return s == StatusStarting || s == StatusStopping
}

// IsTerminal reports whether no further transition is expected for the session id
func (s SessionStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusError
}

// Session represents one remote GPU environment owned by the orchestrator
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Exposure     string        `json:"exposure"`
	PackID       string        `json:"pack_id"`
	Status       SessionStatus `json:"status"`
	ContainerID  *string       `json:"container_id"`
	GPUID        int           `json:"gpu_id"`
	SSHPort      int           `json:"ssh_port"`
	SSHHost      string        `json:"ssh_host"`
	Slug         string        `json:"slug"`
	WorkspaceZFS string        `json:"workspace_zfs"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at"`
	StoppedAt    *time.Time    `json:"stopped_at"`
	ErrorMessage *string       `json:"error_message"`
}

// SessionCurrentResponse is the payload of GET /sessions/current
type SessionCurrentResponse struct {
	Session *Session `json:"session"`
}

// SessionCreateResponse is the payload of POST /sessions
type SessionCreateResponse struct {
	Message string  `json:"message"`
	Session Session `json:"session"`
}

// SessionActionResponse acknowledges an accepted action such as stop
type SessionActionResponse struct {
	Message string `json:"message"`
}
