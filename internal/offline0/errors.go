package offline0

import (
	"errors"
	"fmt"
)

// Kind classifies failures the agent knows how to recover from.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindCacheMiss Kind = "cache-miss"
	KindParse     Kind = "parse"
	KindStore     Kind = "store"
	KindConfig    Kind = "config"
)

// Error is the agent's error type. Op names the failing operation, e.g. "queue.get".
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s (caused by: %v)", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

func networkError(op string, cause error) *Error {
	return newError(KindNetwork, op, "network request failed", cause)
}

func storeError(op string, cause error) *Error {
	return newError(KindStore, op, "durable store transaction failed", cause)
}

func parseError(op, message string, cause error) *Error {
	return newError(KindParse, op, message, cause)
}

func configError(message string, cause error) *Error {
	return newError(KindConfig, "config", message, cause)
}

// errTimeout is what the network-first race reports when the timer wins.
var errTimeout = newError(KindTimeout, "network.first", "network did not answer in time", nil)

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
