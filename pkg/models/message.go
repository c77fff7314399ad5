package models

import "encoding/json"

// Message types understood by the worker.
const (
	MessageNavigation  = "REMIX_NAVIGATION"
	MessageSkipWaiting = "SKIP_WAITING"
)

// Message is a control message posted to the worker by a page.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Location is the page location carried by a navigation message.
type Location struct {
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
}

// NavigationPayload is the payload of a REMIX_NAVIGATION message.
type NavigationPayload struct {
	IsMount  bool     `json:"isMount"`
	Location Location `json:"location"`
}
