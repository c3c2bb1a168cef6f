// Package azlet defines the request/response types for azlet IPC.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package azlet

// Request is a completion request sent from the client to the daemon.
type Request struct {
	// RequestID is a per-session incrementing identifier assigned by the client.
	// The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// Input is the current command line content.
	Input string `json:"input"`
	// CursorPos is the byte offset of the cursor within the input.
	CursorPos int `json:"cursor_pos"`
	// SessionID identifies the client session. A newer request for the same
	// session cancels the older one.
	SessionID string `json:"session_id"`
	// MaxCandidates caps the number of candidates returned. Zero uses the
	// configured default.
	MaxCandidates int `json:"max_candidates,omitempty"`
}

// Candidate is a single whole-line completion suggestion.
type Candidate struct {
	// Completion is the full command line after accepting the suggestion.
	Completion string `json:"completion"`
	// CursorPos is the desired cursor position within the completion.
	// nil means cursor at end of completion.
	CursorPos *int `json:"cursor_pos,omitempty"`
	// Name is the inserted word as the worker reported it.
	Name string `json:"name"`
	// Kind is one of group, command, argument_name, argument_value or snippet.
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
	Documentation string `json:"documentation,omitempty"`
}

// Response is sent from the daemon back to the client.
type Response struct {
	// RequestID is echoed from the request for ordering on the client side.
	RequestID int `json:"request_id"`
	// Candidates are sorted by the worker's sort text, then by name.
	Candidates []Candidate `json:"candidates"`
	// Error is set when the daemon has guidance for the user, such as an
	// installation problem or a missing az login.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "not_installed", "not_logged_in").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Request types carried in the "type" field.
const (
	TypeHover      = "hover"
	TypeStatus     = "status"
	TypeRecommend  = "recommend"
	TypeEndSession = "end_session"
)

// TypedRequest is decoded first to route a line to its handler.
type TypedRequest struct {
	Type   string `json:"type,omitempty"`
	Action string `json:"action,omitempty"`
}

// HoverRequest asks for documentation of the token at Offset.
type HoverRequest struct {
	Type   string `json:"type"`
	Input  string `json:"input"`
	Offset int    `json:"offset"`
}

// HoverResponse carries hover documentation rendered as Markdown.
type HoverResponse struct {
	// Markdown is empty when there is nothing to show.
	Markdown string `json:"markdown"`
	// Start and End delimit the token the hover applies to.
	Start int    `json:"start"`
	End   int    `json:"end"`
	Error *Error `json:"error,omitempty"`
}

// StatusRequest asks for the current status line.
type StatusRequest struct {
	Type string `json:"type"`
}

// StatusResponse carries the latest status line, such as the default
// subscription and resource group.
type StatusResponse struct {
	Message string `json:"message"`
	Error   *Error `json:"error,omitempty"`
}

// RecommendRequest asks for next-step scenarios for a script.
type RecommendRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	// Lines are the script lines up to and including the cursor line.
	Lines []string `json:"lines"`
	// Line is the cursor line. Scenarios are reused while it is unchanged.
	Line int `json:"line"`
	// Force requests fresh scenarios even when the line is unchanged.
	Force bool `json:"force,omitempty"`
	// Select makes the scenario at this index current.
	Select *int `json:"select,omitempty"`
	// Executed marks the command at this index of the current scenario as run.
	Executed *int `json:"executed,omitempty"`
}

// RecommendedCommand is one step of a scenario.
type RecommendedCommand struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
	Reason    string   `json:"reason"`
	// Example is a formatted sample with placeholders such as <name>.
	Example  string `json:"example"`
	Executed bool   `json:"executed"`
}

// Recommendation is a scenario of commands that usually follow the script.
type Recommendation struct {
	Description string               `json:"description"`
	Commands    []RecommendedCommand `json:"commands"`
}

// RecommendResponse lists the scenarios and the one currently selected.
type RecommendResponse struct {
	Scenarios []Recommendation `json:"scenarios"`
	Current   *Recommendation  `json:"current,omitempty"`
	Error     *Error           `json:"error,omitempty"`
}

// EndSessionRequest drops the daemon's state for a session.
type EndSessionRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// OKResponse acknowledges a request without a payload.
type OKResponse struct {
	OK    bool   `json:"ok"`
	Error *Error `json:"error,omitempty"`
}

// ConfigRequest is sent from the client for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "reload", "defaults", or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration (for "get", "reload", and "defaults" actions).
	Config *Config `json:"config,omitempty"`
	// Warnings contains configuration warnings (for "validate" action).
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
