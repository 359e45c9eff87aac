package domain

import "time"

// PostbackResult is the outcome of one handler invocation.
type PostbackResult struct {
	Handler string `json:"handler"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	// Artifact is a file path, object key, or delivery confirmation.
	Artifact string        `json:"artifact,omitempty"`
	Rows     int           `json:"rows"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
