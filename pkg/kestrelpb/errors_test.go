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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// timeoutErr implements net.Error's timeout reporting.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	for _, code := range []Code{
		CodeTimedOut, CodeAborted, CodeIOError,
		CodeInvalid, CodeAlreadyPresent, CodeNotFound,
	} {
		orig := NewErrorf(code, "boom")
		require.Same(t, orig, Classify(orig))
		// Even when wrapped, the original classification survives.
		require.Same(t, orig, Classify(errors.Wrap(orig, "while sending")))
	}
}

func TestClassifyTimeout(t *testing.T) {
	cause := context.DeadlineExceeded
	classified := Classify(cause)
	require.Equal(t, CodeTimedOut, classified.Code())
	require.Equal(t, cause.Error(), classified.Message())
	require.True(t, errors.Is(classified, context.DeadlineExceeded))

	classified = Classify(timeoutErr{})
	require.Equal(t, CodeTimedOut, classified.Code())
	require.Equal(t, "dial tcp: i/o timeout", classified.Message())
}

func TestClassifyCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	classified := Classify(ctx.Err())
	require.Equal(t, CodeAborted, classified.Code())
	// The cancellation signal must remain observable to enclosing
	// cancellation-aware logic.
	require.True(t, errors.Is(classified, context.Canceled))
}

func TestClassifyJoinedErrorsFallThrough(t *testing.T) {
	// A joined failure is not examined per member: even one containing a
	// timeout or an already-typed error classifies flat as IOError.
	joined := errors.Join(context.DeadlineExceeded, NewErrorf(CodeAborted, "inner"))
	classified := Classify(joined)
	require.Equal(t, CodeIOError, classified.Code())
}

func TestClassifyGenericError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	classified := Classify(cause)
	require.Equal(t, CodeIOError, classified.Code())
	require.Equal(t, "connection reset by peer", classified.Message())
	require.True(t, errors.Is(classified, cause))
}

func TestClassifyNil(t *testing.T) {
	require.Nil(t, Classify(nil))
}

func TestCodeRetryable(t *testing.T) {
	require.True(t, CodeTimedOut.Retryable())
	require.True(t, CodeIOError.Retryable())
	require.False(t, CodeAborted.Retryable())
	require.False(t, CodeInvalid.Retryable())
	require.False(t, CodeAlreadyPresent.Retryable())
	require.False(t, CodeNotFound.Retryable())
}

func TestErrorFormatting(t *testing.T) {
	err := NewErrorf(CodeTimedOut, "scan of tablet %s timed out", TabletID("abc"))
	require.Equal(t, "TimedOut: scan of tablet abc timed out", err.Error())
	require.Equal(t, CodeTimedOut, err.Code())
}

func TestDetailErrors(t *testing.T) {
	err := NewNotLeaderError("tablet-1", "ts-2")
	require.Equal(t, CodeIOError, err.Code())
	var notLeader *NotLeaderError
	require.True(t, errors.As(err, &notLeader))
	require.Equal(t, ServerID("ts-2"), notLeader.Server)
	require.Equal(t, TabletID("tablet-1"), notLeader.Tablet)

	err = NewTabletNotFoundError("tablet-9")
	require.Equal(t, CodeNotFound, err.Code())
	var notFound *TabletNotFoundError
	require.True(t, errors.As(err, &notFound))

	classified := Classify(&ReplicaUnavailableError{
		Server: "ts-3",
		Cause:  errors.New("connection refused"),
	})
	require.Equal(t, CodeIOError, classified.Code())
	var unavailable *ReplicaUnavailableError
	require.True(t, errors.As(classified, &unavailable))
	require.Equal(t, ServerID("ts-3"), unavailable.Server)
}
