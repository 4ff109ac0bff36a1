// Package syncerr defines the typed error taxonomy shared by the sync
// engine, orchestrator, and policy layer: a single *Error type carrying a
// Kind, layered over plain fmt.Errorf wrapping everywhere else.
package syncerr

import "fmt"

// Kind classifies an Error for callers that need to branch on it (the
// orchestrator's propagation policy, mainly).
type Kind string

const (
	Network      Kind = "network"
	Protocol     Kind = "protocol"
	Storage      Kind = "storage"
	Encryption   Kind = "encryption"
	Auth         Kind = "auth"
	PolicyDenied Kind = "policy_denied"
	ChannelClosed Kind = "channel_closed"
	Timeout      Kind = "timeout"
)

// Error is the common error value returned across the sync engine and
// orchestrator. Reason is populated only for PolicyDenied.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, syncerr.New(syncerr.Network, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, reason string) *Error { return &Error{Kind: kind, Reason: reason} }

func Wrap(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Denied builds the PolicyDenied variant carrying a human-readable reason.
func Denied(reason string) *Error { return &Error{Kind: PolicyDenied, Reason: reason} }
