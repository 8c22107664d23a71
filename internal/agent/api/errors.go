package api

import "fmt"

// TransientError marks a failure the retry layer should re-attempt: network
// faults, timeouts, 5xx responses, and rate limiting.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the session token was rejected. Retrying is pointless; the
// examinee must log in again.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected (%d %s): %s", e.Status, e.Code, e.Message)
}

// ValidationError means the server understood and refused the request:
// bad payloads, invalid exam codes, unavailable exams.
type ValidationError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rejected (%d %s): %s", e.Status, e.Code, e.Message)
}
