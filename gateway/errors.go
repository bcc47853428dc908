package gateway

import "fmt"

// ConfigurationError reports that a backend handle cannot be built from
// the current configuration, e.g. a missing credential or endpoint. It is
// returned by the accessor that needs the missing piece; other backends
// stay usable.
type ConfigurationError struct {
	Backend string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Backend, e.Message)
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(backend, message string) *ConfigurationError {
	return &ConfigurationError{Backend: backend, Message: message}
}

// AuthenticationError reports credentials rejected by a backend. The
// gateway never pre-validates credentials; this surfaces from the backend
// on first real use.
type AuthenticationError struct {
	Backend string
	Cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication rejected by %s: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("authentication rejected by %s", e.Backend)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(backend string, cause error) *AuthenticationError {
	return &AuthenticationError{Backend: backend, Cause: cause}
}

// ConnectivityError reports a network or timeout failure reaching a
// backend. It propagates to the caller unchanged, except inside
// TestConnections where it becomes per-backend diagnostic data.
type ConnectivityError struct {
	Backend string
	Message string
	Cause   error
}

func (e *ConnectivityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connectivity error (%s): %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("connectivity error (%s): %s", e.Backend, e.Message)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Cause
}

// NewConnectivityError creates a new connectivity error.
func NewConnectivityError(backend, message string, cause error) *ConnectivityError {
	return &ConnectivityError{Backend: backend, Message: message, Cause: cause}
}
