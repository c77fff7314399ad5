package models

import "time"

// WorkerState tracks a worker generation through its lifecycle.
type WorkerState string

const (
	StateParsed     WorkerState = "parsed"
	StateInstalling WorkerState = "installing"
	StateInstalled  WorkerState = "installed"
	StateActivating WorkerState = "activating"
	StateActivated  WorkerState = "activated"
	StateRedundant  WorkerState = "redundant"
)

// WorkerInfo summarizes one worker generation.
type WorkerInfo struct {
	ID          string      `json:"id"`
	Version     string      `json:"version"`
	State       WorkerState `json:"state"`
	Assets      int         `json:"assets"`
	InstalledAt time.Time   `json:"installed_at,omitempty"`
}

// RegistrationStatus is the externally visible registration state.
type RegistrationStatus struct {
	Active  *WorkerInfo `json:"active,omitempty"`
	Waiting *WorkerInfo `json:"waiting,omitempty"`
	Clients int         `json:"clients"`
}
