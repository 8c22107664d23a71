// Package biometric abstracts optional identity verification before the exam
// begins. Venues without enrolled hardware run with the unavailable provider
// and fall back to credential-only login.
package biometric

import (
	"context"
	"errors"
)

// ErrUnavailable means no biometric hardware or enrollment exists on this
// device. Callers treat it as "skip verification", not as a failure.
var ErrUnavailable = errors.New("biometric: verification unavailable")

// ErrRejected means verification ran and did not match.
var ErrRejected = errors.New("biometric: verification rejected")

// Provider performs one identity check. Implementations wrap the platform's
// biometric API; Verify blocks until the check resolves or ctx is cancelled.
type Provider interface {
	Available() bool
	Verify(ctx context.Context) error
}

// Unavailable is the no-hardware provider.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Verify(context.Context) error { return ErrUnavailable }
