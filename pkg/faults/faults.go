// Package faults defines the error kinds surfaced by Hangar's core.
//
// Every kind unwraps to a containerd errdefs class, so callers can classify
// an error with errdefs.IsNotFound, errdefs.IsUnauthorized and friends
// without importing this package.
package faults

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ConfigurationError reports missing or invalid configuration
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return errdefs.ErrFailedPrecondition }

// DecryptionError reports a blob that failed authentication or was malformed
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return errdefs.ErrDataLoss }

// AuthenticationError reports a node that rejected our credentials.
// It never carries the password.
type AuthenticationError struct {
	Node   string
	Status int
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication to node %s failed: HTTP %d", e.Node, e.Status)
	}
	return fmt.Sprintf("authentication to node %s failed: %s", e.Node, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return errdefs.ErrUnauthenticated }

// RemoteAPIError reports a non-2xx response or a transport failure
// from the control-plane API. Status is 0 when no response was received.
type RemoteAPIError struct {
	Node   string
	Status int
	Body   string
	Err    error
}

func (e *RemoteAPIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("node %s: request failed: %v", e.Node, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("node %s: HTTP %d", e.Node, e.Status)
	}
	return fmt.Sprintf("node %s: HTTP %d: %s", e.Node, e.Status, e.Body)
}

func (e *RemoteAPIError) Unwrap() []error {
	if e.Err != nil {
		return []error{errdefs.ErrUnavailable, e.Err}
	}
	return []error{errdefs.ErrUnavailable}
}

// NotFoundError reports a missing secret, node or resource
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return errdefs.ErrNotFound }

// InvalidArgumentError reports a request rejected before any work was done
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return errdefs.ErrInvalidArgument }

// NotFound is a shorthand constructor
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// InvalidArgument is a shorthand constructor
func InvalidArgument(field, format string, args ...any) error {
	return &InvalidArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
