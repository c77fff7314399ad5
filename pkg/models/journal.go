package models

import "time"

// Lifecycle event names recorded in the journal.
const (
	EventInstall     = "install"
	EventActivate    = "activate"
	EventCleanup     = "cleanup"
	EventClaim       = "claim"
	EventMessage     = "message"
	EventSkipWaiting = "skip_waiting"
	EventRedundant   = "redundant"
)

// LifecycleEvent is one journaled worker lifecycle event.
type LifecycleEvent struct {
	ID        string    `json:"id"`
	WorkerID  string    `json:"worker_id"`
	Version   string    `json:"version"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventQueryOpts filters journal queries.
type EventQueryOpts struct {
	WorkerID string
	Event    string
	Since    time.Time
	Limit    int
}
