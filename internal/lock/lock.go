// Package lock serializes provisioning of shared prerequisites per project and region.
package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrBusy is returned when a lock could not be acquired before the context ended.
var ErrBusy = errors.New("lock: busy")

// Locker hands out exclusive leases keyed by name.
type Locker interface {
	// Acquire blocks until the lease is held or ctx is done. release is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ProvisionKey names the lease guarding prerequisites of a project in a region.
func ProvisionKey(projectID int64, region string) string {
	return fmt.Sprintf("provision:%d:%s", projectID, region)
}
