package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository"
)

// ErrPersistence reports that a provider resource exists but its local row could not be written.
var ErrPersistence = errors.New("provision: local persistence failed")

// StepError describes the step at which a run failed.
type StepError struct {
	Step string
	// Kind is one of the failure sentinels, matched with errors.Is.
	Kind       error
	ResourceID string
	Err        error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("provision %s: %v", e.Step, e.Err)
	if e.ResourceID != "" {
		msg += " (resource " + e.ResourceID + ")"
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *StepError) Unwrap() []error {
	if e.Kind == nil || errors.Is(e.Err, e.Kind) {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

var kindSentinels = []error{
	ErrPersistence,
	lock.ErrBusy,
	context.Canceled,
	awsprovider.ErrConfiguration,
	awsprovider.ErrAuthentication,
	awsprovider.ErrRegionUnavailable,
	awsprovider.ErrProviderTimeout,
	awsprovider.ErrSecretStore,
	awsprovider.ErrInvalidArgument,
	awsprovider.ErrProviderResource,
}

func kindOf(err error) error {
	for _, k := range kindSentinels {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName returns a stable label for the failure kind of err.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, lock.ErrBusy):
		return "busy"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if name := awsprovider.KindName(err); name != "" {
		return name
	}
	if errors.Is(err, repository.ErrNotFound) {
		return "not_found"
	}
	return "internal"
}

func stepError(step string, err error, resourceID string) error {
	var existing *StepError
	if errors.As(err, &existing) {
		return err
	}
	if resourceID == "" {
		resourceID = awsprovider.LeftoverResourceID(err)
	}
	return &StepError{Step: step, Kind: kindOf(err), ResourceID: resourceID, Err: err}
}

func persistenceError(step string, err error, resourceID string) error {
	return &StepError{Step: step, Kind: ErrPersistence, ResourceID: resourceID, Err: fmt.Errorf("%w: %w", ErrPersistence, err)}
}
