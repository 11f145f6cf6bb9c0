package models

import "time"

// SessionState represents the lifecycle state of an interactive session
type SessionState string

const (
	StateIdle          SessionState = "IDLE"
	StateLaunching     SessionState = "LAUNCHING"
	StateStreaming     SessionState = "STREAMING"
	StateLoginDetected SessionState = "LOGIN_DETECTED"
	StateClosed        SessionState = "CLOSED"
	StateFailed        SessionState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// SessionKind distinguishes why the session was opened
type SessionKind string

const (
	KindLogin    SessionKind = "login"
	KindSettings SessionKind = "settings"
)

// SessionInfo is the external view of an interactive session
type SessionInfo struct {
	ID        string       `json:"id"`
	Provider  string       `json:"provider"`
	Kind      SessionKind  `json:"kind"`
	State     SessionState `json:"state"`
	StartedAt time.Time    `json:"startedAt"`
	LastFrame time.Time    `json:"lastFrame,omitempty"`
	LastError string       `json:"lastError,omitempty"`
}

// StatusResponse answers the per-provider status query
type StatusResponse struct {
	Active   bool `json:"active"`
	LoggedIn bool `json:"logged_in"`
}

// StartResponse acknowledges a start request
type StartResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Session string `json:"session,omitempty"`
}

// NavigateRequest points a running session at a URL
type NavigateRequest struct {
	URL string `json:"url"`
}
