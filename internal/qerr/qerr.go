// Package qerr defines the failure kinds a query can end in and how they are
// reported to callers.
package qerr

import (
	"encoding/json"
	stderrs "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a failure. Each kind maps to exactly one HTTP status.
type Kind uint8

const (
	// KindStore is an execution failure in the backing store (500)
	KindStore Kind = iota
	// KindValidation is malformed or contradictory filter input (400)
	KindValidation
	// KindScope is a request whose intrinsic cost exceeds any budget (413)
	KindScope
	// KindThrottle is a client whose current balance is short (429)
	KindThrottle
	// KindNotFound is a well-formed query with zero matches (404)
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindScope:
		return "scope"
	case KindThrottle:
		return "throttle"
	case KindNotFound:
		return "not_found"
	default:
		return "store"
	}
}

// HTTPStatus returns the status code mirrored onto the response.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindScope:
		return http.StatusRequestEntityTooLarge
	case KindThrottle:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

const (
	MsgServerError = "Server error"
	MsgTimeout     = "Query timed out; please narrow your request."
	MsgNotFound    = "Not found: No matching results found in database."
	MsgTooBroad    = "Your query is too broad and matched too many records; please use the filters to make a narrower request, and feel free to make multiple requests to cover more cases."
	MsgOutOfScope  = "The temporospatial extent of your request is very large and likely to crash our API. Please request a smaller region or time window, or make multiple requests covering parts of your region of interest."
	MsgThrottled   = "You have exceeded your request budget; please wait a moment and try again."
)

// Error is the structured failure passed between pipeline stages.
// msg is caller facing; cause is kept for logs only.
type Error struct {
	kind       Kind
	msg        string
	cause      error
	retryAfter time.Duration
}

// Wire is the JSON body returned to callers.
type Wire struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Message() string { return e.msg }

// RetryAfter is only set on throttle errors.
func (e *Error) RetryAfter() time.Duration { return e.retryAfter }

func (e *Error) ToWire() Wire {
	return Wire{Code: e.kind.HTTPStatus(), Message: e.msg}
}

func Validation(format string, args ...any) error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func Scope(msg string) error {
	if msg == "" {
		msg = MsgOutOfScope
	}
	return &Error{kind: KindScope, msg: msg}
}

func Throttle(retryAfter time.Duration) error {
	return &Error{kind: KindThrottle, msg: MsgThrottled, retryAfter: retryAfter}
}

func NotFound() error {
	return &Error{kind: KindNotFound, msg: MsgNotFound}
}

// Store wraps an execution failure. The cause never reaches the wire.
func Store(cause error) error {
	return &Error{kind: KindStore, msg: MsgServerError, cause: cause}
}

// Timeout is a store failure caused by the request deadline.
func Timeout(cause error) error {
	return &Error{kind: KindStore, msg: MsgTimeout, cause: cause}
}

// As unwraps err into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf defaults to KindStore for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return KindStore
}

func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// WireFrom converts any error into its wire form; foreign errors are
// reported as a generic server error.
func WireFrom(err error) Wire {
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: http.StatusInternalServerError, Message: MsgServerError}
}

// Write renders err as a {code,message} body with the mirrored status.
func Write(w http.ResponseWriter, err error) {
	wire := WireFrom(err)
	if e, ok := As(err); ok && e.kind == KindThrottle && e.retryAfter > 0 {
		secs := int(e.retryAfter.Seconds() + 0.999)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(wire.Code)
	_ = json.NewEncoder(w).Encode(wire)
}
