// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kestrelpb

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Code is the machine-readable classification of a failed operation. It is
// the sole signal the dispatch layer uses to decide retryability.
type Code int32

const (
	_ Code = iota
	// CodeTimedOut: the operation did not complete in time. Potentially
	// transient.
	CodeTimedOut
	// CodeAborted: the caller asked to stop. Never retried.
	CodeAborted
	// CodeIOError: a transport-level failure. Potentially transient.
	CodeIOError
	// CodeInvalid: the request or a response was malformed. Produced by
	// validation, not by classification.
	CodeInvalid
	// CodeAlreadyPresent: produced by upstream collaborators (e.g. the
	// master on duplicate table creation) and passed through unchanged.
	CodeAlreadyPresent
	// CodeNotFound: the addressed entity is gone. Produced by upstream
	// collaborators and passed through unchanged.
	CodeNotFound
)

func (c Code) String() string {
	switch c {
	case CodeTimedOut:
		return "TimedOut"
	case CodeAborted:
		return "Aborted"
	case CodeIOError:
		return "IOError"
	case CodeInvalid:
		return "Invalid"
	case CodeAlreadyPresent:
		return "AlreadyPresent"
	case CodeNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// SafeValue implements the redact.SafeValue interface.
func (c Code) SafeValue() {}

// Retryable returns whether failures with this code are treated as
// potentially transient by the dispatch layer.
func (c Code) Retryable() bool {
	return c == CodeTimedOut || c == CodeIOError
}

// Error is a classified failure: a fixed-set code, a message, and an
// optional wrapped cause. It is immutable once constructed. Every failure
// surfaced by the routing layer is an *Error.
type Error struct {
	code  Code
	msg   string
	cause error
}

var _ error = (*Error)(nil)

// NewError returns an Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// NewErrorf is like NewError with formatting.
func NewErrorf(code Code, format string, args ...interface{}) *Error {
	return &Error{code: code, msg: redact.Sprintf(format, args...).StripMarkers()}
}

// WrapError returns an Error with the given code and message, retaining
// cause in the error chain.
func WrapError(code Code, cause error, msg string) *Error {
	return &Error{code: code, msg: msg, cause: cause}
}

// Code returns the error's classification.
func (e *Error) Code() Code {
	return e.code
}

// Message returns the human-readable message, without the code prefix.
func (e *Error) Message() string {
	return e.msg
}

func (e *Error) Error() string {
	return e.code.String() + ": " + e.msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Format implements fmt.Formatter.
func (e *Error) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// NotLeaderError reports that the contacted replica no longer holds the
// tablet's leadership. The dispatch layer reacts by demoting the cached
// leader and retrying.
type NotLeaderError struct {
	Tablet TabletID
	Server ServerID
}

func (e *NotLeaderError) Error() string {
	return fmt.Sprintf("replica %s is not the leader for tablet %s", e.Server, e.Tablet)
}

// TabletNotFoundError reports that the addressed tablet is not (or no
// longer) served where the client expected it.
type TabletNotFoundError struct {
	Tablet TabletID
}

func (e *TabletNotFoundError) Error() string {
	return fmt.Sprintf("tablet %s not found", e.Tablet)
}

// ReplicaUnavailableError reports that a specific server could not be
// reached at all. The dispatch layer reacts by evicting the replica from
// the cached location and retrying elsewhere.
type ReplicaUnavailableError struct {
	Server ServerID
	Cause  error
}

func (e *ReplicaUnavailableError) Error() string {
	return fmt.Sprintf("replica on server %s unavailable: %v", e.Server, e.Cause)
}

// Unwrap returns the underlying transport failure.
func (e *ReplicaUnavailableError) Unwrap() error {
	return e.Cause
}

// NewNotLeaderError returns the typed form of a not-leader response.
// Classified IOError: the tablet itself is fine, routing just has to catch
// up, so the failure is transient.
func NewNotLeaderError(tablet TabletID, server ServerID) *Error {
	detail := &NotLeaderError{Tablet: tablet, Server: server}
	return WrapError(CodeIOError, detail, detail.Error())
}

// NewTabletNotFoundError returns the typed form of a tablet-not-found
// response.
func NewTabletNotFoundError(tablet TabletID) *Error {
	detail := &TabletNotFoundError{Tablet: tablet}
	return WrapError(CodeNotFound, detail, detail.Error())
}

// Classify maps an arbitrary failure into an *Error. It is total: every
// non-nil input yields a classified error. The rules, in priority order:
//
//  1. An error already carrying a Code passes through unchanged.
//  2. A joined failure wrapping several underlying errors is not examined
//     per member and falls through to the generic rule below.
//  3. A timeout becomes CodeTimedOut, keeping the original message and
//     cause.
//  4. A cancellation becomes CodeAborted. The cause chain keeps
//     context.Canceled observable (errors.Is still reports it), so
//     enclosing cancellation-aware logic is not robbed of the signal.
//  5. Anything else becomes CodeIOError.
//
// Classify never retries and never mutates shared state; it only labels.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	// A joined failure (errors.Join et al.) is deliberately not unpacked;
	// checking it first keeps errors.As/Is below from reaching into the
	// members and changing the flat classification.
	// TODO: classify joined failures by their most specific member.
	if _, ok := err.(interface{ Unwrap() []error }); ok {
		return WrapError(CodeIOError, err, err.Error())
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if isTimeout(err) {
		return WrapError(CodeTimedOut, err, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(CodeAborted, err, err.Error())
	}
	return WrapError(CodeIOError, err, err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
