package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by reliable reads that gave up because the
	// caller's context was cancelled.
	ErrShutdown = errors.New("rpc: shutdown requested")
	// ErrRejected is returned when a service answered with an ERROR status.
	ErrRejected = errors.New("rpc: request rejected by server")
)

// IntegrityError reports a reply that arrived but could not be trusted.
type IntegrityError struct {
	Service string
	Err     error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("malformed reply from %s server: %v", e.Service, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IntegrityPolicy selects how reliable reads react to an IntegrityError.
type IntegrityPolicy string

const (
	// FailFast returns the error to the caller, which is expected to stop.
	FailFast IntegrityPolicy = "fail-fast"
	// FailSoft treats the reply like a lost one: reconnect and retry.
	FailSoft IntegrityPolicy = "fail-soft"
)

func ParseIntegrityPolicy(s string) (IntegrityPolicy, error) {
	switch IntegrityPolicy(s) {
	case FailFast, FailSoft:
		return IntegrityPolicy(s), nil
	case "":
		return FailFast, nil
	default:
		return "", fmt.Errorf("unknown integrity policy %q", s)
	}
}
