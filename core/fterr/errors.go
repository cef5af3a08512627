// Package fterr defines the error taxonomy shared by all connectors and the
// orchestration core. Connector implementations classify raw provider errors
// into these types before returning; provider-specific errors never cross
// the connector boundary.
package fterr

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation failed: %s", e.Field)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// UnknownPlatformError reports that no connector is registered for a name.
type UnknownPlatformError struct {
	PlatformName string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("unknown platform %q", e.PlatformName)
}

// AuthenticationError reports credentials rejected by the provider.
type AuthenticationError struct {
	PlatformName string
	Reason       string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.PlatformName, e.Reason)
}

// NotConnectedError reports an operation attempted on a platform with no
// live connection.
type NotConnectedError struct {
	PlatformName string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("platform %s is not connected", e.PlatformName)
}

// ConnectionError reports a transient network failure. Eligible for backoff
// retry.
type ConnectionError struct {
	PlatformName string
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.PlatformName, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProvisioningError reports that the provider could not allocate resources
// for a submitted job.
type ProvisioningError struct {
	PlatformName string
	Reason       string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning on %s failed: %s", e.PlatformName, e.Reason)
}

// NotReadyError reports that a job is not in a state that permits the
// requested operation.
type NotReadyError struct {
	JobID string
	State string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job %s is not ready: state %s", e.JobID, e.State)
}

// NotFoundError reports a job or resource id unknown to the provider.
type NotFoundError struct {
	Kind string // "job", "resource", "platform"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsRetryable reports whether err is a transient failure that retry with
// backoff may resolve.
func IsRetryable(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
