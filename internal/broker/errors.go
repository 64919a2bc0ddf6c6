// Package broker sits at the Angel One transport boundary: it turns logins
// into explicit Session values, builds order payloads, and normalizes every
// placeOrder answer into a tagged Result.
package broker

import "errors"

// Kind classifies a pipeline failure.
type Kind string

const (
	KindNetwork   Kind = "network"   // transport failure, retryable
	KindAuth      Kind = "auth"      // session invalid or expired, re-authenticate then retry
	KindData      Kind = "data"      // instrument data missing, aborts this account only
	KindRejected  Kind = "rejected"  // broker refused the order, retried up to the cap
	KindMalformed Kind = "malformed" // unexpected response shape, retried as a rejection
)

// Standard sentinel errors, one per Kind.
var (
	ErrNetwork   = errors.New("network error")
	ErrAuth      = errors.New("session invalid or expired")
	ErrData      = errors.New("instrument data missing")
	ErrRejected  = errors.New("order rejected")
	ErrMalformed = errors.New("malformed broker response")
)

var sentinels = map[Kind]error{
	KindNetwork:   ErrNetwork,
	KindAuth:      ErrAuth,
	KindData:      ErrData,
	KindRejected:  ErrRejected,
	KindMalformed: ErrMalformed,
}

// OrderError is a classified failure with the broker's code when there is one.
type OrderError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *OrderError) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *OrderError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// NewOrderError creates a new OrderError.
func NewOrderError(kind Kind, code, message string, err error) *OrderError {
	return &OrderError{Kind: kind, Code: code, Message: message, Err: err}
}

// Classify maps err to a Kind. Unclassified transport errors count as network.
func Classify(err error) Kind {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindNetwork
}

// Retryable reports whether an attempt that failed with kind may be retried.
func Retryable(kind Kind) bool {
	return kind != KindData
}
