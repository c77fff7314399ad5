package models

// Manifest is the build output description published by the application
// build. Assets are origin-relative URL paths.
type Manifest struct {
	Version string   `json:"version"`
	Assets  []string `json:"assets"`
}
