package rcon

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrConnection       = errors.New("rcon connection error")
	ErrTimeout          = errors.New("rcon timeout")
	ErrAuthentication   = errors.New("rcon authentication failed")
	ErrParse            = errors.New("rcon parse error")
	ErrNotAuthenticated = errors.New("rcon connection not authenticated")
)

// Phase identifies which wait a TimeoutError interrupted.
type Phase string

const (
	PhaseConnection Phase = "connection"
	PhaseResponse   Phase = "response"
)

// ConnectionError reports a socket that could not be established or broke
// while waiting for data.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rcon connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// TimeoutError reports a connect or response wait that exceeded its limit.
type TimeoutError struct {
	Phase Phase
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rcon %s timed out after %s", e.Phase, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// AuthenticationError reports credentials rejected by the server.
type AuthenticationError struct {
	Addr string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("rcon authentication rejected by %s", e.Addr)
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// ParseError reports a malformed or incomplete packet.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "rcon parse error: " + e.Reason
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Error kinds reported in a Result.
const (
	KindConnection     = "connection_error"
	KindTimeout        = "timeout_error"
	KindAuthentication = "authentication_error"
	KindParse          = "parse_error"
	KindCancelled      = "cancelled"
	KindInternal       = "internal_error"
)

// Classify maps an error to its Result kind.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrConnection), errors.Is(err, ErrNotAuthenticated):
		return KindConnection
	case errors.Is(err, errContextDone):
		return KindCancelled
	default:
		return KindInternal
	}
}

var errContextDone = errors.New("rcon wait abandoned")

var kindMessages = map[string]string{
	KindConnection:     "Failed to connect to RCON server",
	KindTimeout:        "RCON request timed out",
	KindAuthentication: "RCON authentication failed",
	KindParse:          "Malformed RCON response",
	KindCancelled:      "RCON request cancelled",
	KindInternal:       "RCON command failed",
}
