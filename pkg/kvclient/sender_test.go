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

package kvclient

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestreldb/kestrel-go/pkg/kestrelpb"
	"github.com/kestreldb/kestrel-go/pkg/kvclient/tabletcache"
	"github.com/kestreldb/kestrel-go/pkg/util/log"
)

func TestMain(m *testing.M) {
	log.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

// testDirectory serves a single canned descriptor and counts fetches.
type testDirectory struct {
	mu      sync.Mutex
	lookups int
	resolve func(table kestrelpb.TableID, key kestrelpb.EncodedKey) (*kestrelpb.TabletDescriptor, error)
}

func (d *testDirectory) LookupTablet(
	ctx context.Context, table kestrelpb.TableID, key kestrelpb.EncodedKey,
) (*kestrelpb.TabletDescriptor, error) {
	d.mu.Lock()
	d.lookups++
	d.mu.Unlock()
	return d.resolve(table, key)
}

func (d *testDirectory) lookupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

func wholeTableResolver(
	table kestrelpb.TableID, key kestrelpb.EncodedKey,
) (*kestrelpb.TabletDescriptor, error) {
	return &kestrelpb.TabletDescriptor{
		TableID:   table,
		TabletID:  "tablet-1",
		Partition: kestrelpb.Partition{},
		Replicas: []kestrelpb.ReplicaDescriptor{
			{ServerID: "ts-1", Role: kestrelpb.RoleLeader},
			{ServerID: "ts-2", Role: kestrelpb.RoleFollower},
			{ServerID: "ts-3", Role: kestrelpb.RoleFollower},
		},
	}, nil
}

// testConfig shrinks the backoffs so retry-heavy tests finish quickly.
func testConfig(attempts int) Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = Duration(time.Microsecond)
	cfg.MaxBackoff = Duration(10 * time.Microsecond)
	cfg.MaxSendAttempts = attempts
	cfg.LookupTimeout = 0
	return cfg
}

// attempt records one SendFunc invocation.
type attempt struct {
	server   kestrelpb.ServerID
	isLeader bool
}

func newTestSender(t *testing.T, dir *testDirectory, cfg Config) *Sender {
	t.Helper()
	s, err := NewSender(tabletcache.NewTabletCache(dir, nil), cfg)
	require.NoError(t, err)
	return s
}

func TestSendToTabletFirstTrySuccess(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(3))

	var attempts []attempt
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts = append(attempts, attempt{server, isLeader})
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, []attempt{{"ts-1", true}}, attempts)
	require.Equal(t, 1, dir.lookupCount())
}

func TestSendToTabletNotLeaderDemotesAndRetries(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(3))

	var attempts []attempt
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts = append(attempts, attempt{server, isLeader})
			if isLeader {
				return kestrelpb.NewNotLeaderError("tablet-1", server)
			}
			return nil
		})
	require.NoError(t, err)
	// The demoted server stays servable; the second attempt reuses it
	// without the leader claim.
	require.Equal(t, []attempt{{"ts-1", true}, {"ts-1", false}}, attempts)
	// The retry rode the cached location; no refetch.
	require.Equal(t, 1, dir.lookupCount())
}

func TestSendToTabletReplicaUnavailableFallsOver(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(3))

	var attempts []attempt
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts = append(attempts, attempt{server, isLeader})
			if server == "ts-1" {
				detail := &kestrelpb.ReplicaUnavailableError{
					Server: server, Cause: errors.New("connection refused"),
				}
				return kestrelpb.WrapError(kestrelpb.CodeIOError, detail, detail.Error())
			}
			return nil
		})
	require.NoError(t, err)
	// ts-1 was both leader and unavailable: the retry lands on the next
	// servable replica with no leader claim.
	require.Equal(t, []attempt{{"ts-1", true}, {"ts-2", false}}, attempts)
	require.Equal(t, 1, dir.lookupCount())
}

func TestSendToTabletPlainIOErrorEvictsUsedServer(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(4))

	var attempts []attempt
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts = append(attempts, attempt{server, isLeader})
			if server != "ts-3" {
				return errors.New("broken pipe")
			}
			return nil
		})
	require.NoError(t, err)
	// Each generic transport failure prunes the server it used.
	require.Equal(t, []attempt{{"ts-1", true}, {"ts-2", false}, {"ts-3", false}}, attempts)
}

func TestSendToTabletTabletNotFoundRefetches(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(3))

	var attempts int
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts++
			if attempts == 1 {
				return kestrelpb.NewTabletNotFoundError("tablet-1")
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	// The eviction forced the second attempt through the directory.
	require.Equal(t, 2, dir.lookupCount())
}

func TestSendToTabletAbortedPropagatesImmediately(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(5))

	var attempts int
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts++
			return kestrelpb.NewError(kestrelpb.CodeAborted, "write conflict")
		})
	require.Equal(t, 1, attempts)
	var tErr *kestrelpb.Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, kestrelpb.CodeAborted, tErr.Code())
}

func TestSendToTabletExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(3))

	var attempts int
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			attempts++
			return kestrelpb.NewErrorf(kestrelpb.CodeTimedOut, "rpc deadline exceeded")
		})
	require.Equal(t, 3, attempts)
	var tErr *kestrelpb.Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, kestrelpb.CodeTimedOut, tErr.Code())
	require.Contains(t, err.Error(), "exhausted send attempts")
}

func TestSendToTabletCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := &testDirectory{resolve: wholeTableResolver}
	s := newTestSender(t, dir, testConfig(3))

	// The lookup may lose the race against the canceled context and still
	// resolve; a context-honoring send keeps the outcome the same.
	err := s.SendToTablet(ctx, "users", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			return ctx.Err()
		})
	var tErr *kestrelpb.Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, kestrelpb.CodeAborted, tErr.Code())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendToTabletDirectoryErrorClassified(t *testing.T) {
	ctx := context.Background()
	dir := &testDirectory{resolve: func(
		table kestrelpb.TableID, key kestrelpb.EncodedKey,
	) (*kestrelpb.TabletDescriptor, error) {
		return nil, kestrelpb.NewError(kestrelpb.CodeNotFound, "no such table")
	}}
	s := newTestSender(t, dir, testConfig(3))

	err := s.SendToTablet(ctx, "orders", kestrelpb.EncodedKey("k"),
		func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error {
			t.Fatal("send reached without a resolved tablet")
			return nil
		})
	var tErr *kestrelpb.Error
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, kestrelpb.CodeNotFound, tErr.Code())
	require.Equal(t, 1, dir.lookupCount())
}
