package wizard

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrUnauthorized is returned by a Backend when the session cookie is
// missing or expired. The wizard stops syncing and sends the user to login.
var ErrUnauthorized = errors.New("wizard: session expired")

// ErrNoProgress is returned by Load when nothing has been persisted yet.
var ErrNoProgress = errors.New("wizard: no saved progress")

// ErrCancelled is returned by Advance when the user declines the risk
// acknowledgement.
var ErrCancelled = errors.New("wizard: transition cancelled")

// ValidationError lists the fields of a step that failed validation.
type ValidationError struct {
	Step   StepID
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := slices.Sorted(maps.Keys(e.Fields))
	return fmt.Sprintf("wizard: step %s invalid: %s", e.Step, strings.Join(names, ", "))
}

// TransientSyncError wraps a failed submission attempt that will be retried.
type TransientSyncError struct {
	Step StepID
	Err  error
}

func (e *TransientSyncError) Error() string {
	return fmt.Sprintf("wizard: submit %s: %v", e.Step, e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// SyncFailure is a submission that also failed on retry. It triggers
// recovery.
type SyncFailure struct {
	Step      StepID
	Discarded int
	Err       error
}

func (e *SyncFailure) Error() string {
	return fmt.Sprintf("wizard: submit %s failed after retry (%d queued dropped): %v", e.Step, e.Discarded, e.Err)
}

func (e *SyncFailure) Unwrap() error { return e.Err }

// RecoveryFailure means the authoritative progress could not be fetched
// after a SyncFailure. The user must reload.
type RecoveryFailure struct {
	Err error
}

func (e *RecoveryFailure) Error() string {
	return fmt.Sprintf("wizard: recovery failed: %v", e.Err)
}

func (e *RecoveryFailure) Unwrap() error { return e.Err }

// ThirdPartyError is a failure of the verification provider or its widget.
// It never alters wizard state.
type ThirdPartyError struct {
	Op  string
	Err error
}

func (e *ThirdPartyError) Error() string {
	return fmt.Sprintf("wizard: verification %s: %v", e.Op, e.Err)
}

func (e *ThirdPartyError) Unwrap() error { return e.Err }
