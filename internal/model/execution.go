package model

import "time"

// Cookie is one browser cookie in a session seed.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds, 0 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// SessionSeed describes the isolated browser session an execution runs in:
// where to start and what state (cookies, storage, headers) to preload.
type SessionSeed struct {
	StartURL       string            `json:"startUrl,omitempty"`
	Cookies        []Cookie          `json:"cookies,omitempty"`
	LocalStorage   map[string]string `json:"localStorage,omitempty"`
	SessionStorage map[string]string `json:"sessionStorage,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TOTPSecret     string            `json:"totpSecret,omitempty"`
}

// ExecutionRequest is the unit of work handed to the orchestrator. It is
// owned by exactly one execution and never shared.
type ExecutionRequest struct {
	ExecutionID string      `json:"executionId"`
	Instruction string      `json:"instruction"`
	Seed        SessionSeed `json:"seed"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// ExecutionOutcome is the terminal result of one execution, produced exactly
// once after the retry budget is spent or the task succeeds.
type ExecutionOutcome struct {
	ExecutionID string   `json:"executionId"`
	Success     bool     `json:"success"`
	Output      string   `json:"output,omitempty"`
	Error       string   `json:"error,omitempty"`
	Attempts    int      `json:"attempts"`
	Artifacts   []string `json:"artifacts,omitempty"`
}
