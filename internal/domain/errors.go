package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrUnauthorized indicates the presented node secret matches no node.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedServiceKey means a reported service key did not decompose
	// into forward, user, and grant identifiers.
	ErrMalformedServiceKey = errors.New("malformed service key")

	// ErrNotFound means the referenced entity does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrNodeUnreachable means a pause or resume command could not be
	// delivered to a node's management endpoint.
	ErrNodeUnreachable = errors.New("node unreachable")
)

// CommandError wraps a node command failure with delivery context.
type CommandError struct {
	NodeID  int64
	Service string
	Op      string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("node %d: %s %s: %v", e.NodeID, e.Op, e.Service, e.Err)
	}
	return fmt.Sprintf("node %d: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
