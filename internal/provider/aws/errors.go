package aws

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
)

// Failure kinds reported by the resource drivers. Every driver error wraps exactly one of them.
var (
	ErrConfiguration     = errors.New("provider: configuration invalid")
	ErrAuthentication    = errors.New("provider: authentication failed")
	ErrRegionUnavailable = errors.New("provider: region unavailable")
	ErrProviderResource  = errors.New("provider: resource operation failed")
	ErrProviderTimeout   = errors.New("provider: timed out waiting for resource")
	ErrSecretStore       = errors.New("provider: secret store unavailable")
	ErrInvalidArgument   = errors.New("provider: invalid argument")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrConfiguration, "configuration"},
	{ErrAuthentication, "authentication"},
	{ErrRegionUnavailable, "region_unavailable"},
	{ErrProviderTimeout, "provider_timeout"},
	{ErrSecretStore, "secret_store"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrProviderResource, "provider_resource"},
}

// ResourceError names a provider resource that exists remotely even though the operation failed.
type ResourceError struct {
	ResourceID string
	Err        error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%v (resource %s left behind)", e.Err, e.ResourceID)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// LeftoverResourceID extracts the resource id carried by a ResourceError, if any.
func LeftoverResourceID(err error) string {
	var resErr *ResourceError
	if errors.As(err, &resErr) {
		return resErr.ResourceID
	}
	return ""
}

// KindName returns the stable name of the failure kind wrapped by err.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// classify maps a raw SDK error to a failure kind.
func classify(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AuthFailure", "UnauthorizedOperation", "InvalidClientTokenId", "SignatureDoesNotMatch",
			"AccessDenied", "AccessDeniedException", "ExpiredToken", "RequestExpired":
			return ErrAuthentication
		case "OptInRequired", "InvalidRegion", "UnrecognizedClientException":
			return ErrRegionUnavailable
		}
		return ErrProviderResource
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrRegionUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrProviderTimeout
	}
	return ErrProviderResource
}

// wrap annotates err with the operation name and its failure kind.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := classify(err)
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidVpcID.NotFound", "InvalidSubnetID.NotFound", "InvalidInstanceID.NotFound",
		"InvalidInternetGatewayID.NotFound", "InvalidGroup.NotFound", "InvalidKeyPair.NotFound",
		"Gateway.NotAttached", "NoSuchKey", "NotFound":
		return true
	}
	return false
}
