package engine

import "encoding/json"

// Status is the terminal outcome of an execution request. Every request
// yields exactly one of these.
type Status string

// Execution statuses
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// ErrorKind classifies error results
type ErrorKind string

// Error kinds
const (
	// ErrKindSandboxUnavailable means no backend could provide a sandbox
	// for this request.
	ErrKindSandboxUnavailable ErrorKind = "sandbox_unavailable"

	// ErrKindUserError means the user function itself raised. The sandbox
	// stays healthy and is returned to the pool.
	ErrKindUserError ErrorKind = "user_error"

	// ErrKindMalformedOutput means the sandbox violated the handler output
	// protocol. The sandbox is destroyed and the request is not retried.
	ErrKindMalformedOutput ErrorKind = "malformed_output"

	// ErrKindCancelled means the caller abandoned the request before the
	// handler finished. The sandbox is killed and destroyed.
	ErrKindCancelled ErrorKind = "cancelled"

	// ErrKindInternal means the engine failed to drive the sandbox for a
	// reason other than the ones above.
	ErrKindInternal ErrorKind = "internal"
)

// ExecutionResult is the immutable outcome of one execution request
type ExecutionResult struct {
	Status        Status          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Traceback     string          `json:"traceback,omitempty"`
	ErrorKind     ErrorKind       `json:"error_kind,omitempty"`
	ExecutionTime float64         `json:"execution_time"`
	WarmStart     bool            `json:"warm_start"`
	Backend       string          `json:"backend,omitempty"`
}

// handlerOutput is the JSON object the in-sandbox handler writes to stdout
type handlerOutput struct {
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result"`
	Error         string          `json:"error"`
	Traceback     string          `json:"traceback"`
	ExecutionTime float64         `json:"execution_time"`
}
