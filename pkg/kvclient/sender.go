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

// Package kvclient is the dispatch side of the routing layer: it resolves
// a route for a key through the tablet location cache, hands it to a
// transport-provided send function, classifies whatever failure comes
// back, and feeds the classification into the cache (leader demotion,
// replica eviction, refetch) before retrying with backoff.
package kvclient

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"

	"github.com/kestreldb/kestrel-go/pkg/kestrelpb"
	"github.com/kestreldb/kestrel-go/pkg/kvclient/tabletcache"
	"github.com/kestreldb/kestrel-go/pkg/util/log"
	"github.com/kestreldb/kestrel-go/pkg/util/retry"
)

// SendFunc performs one attempt of an RPC against the given server. The
// transport behind it is free to return raw failures; the Sender
// classifies them. isLeader reports whether the routing layer believes the
// server leads the tablet; operations that require the leader should fail
// with a NotLeaderError when it does not.
type SendFunc func(ctx context.Context, server kestrelpb.ServerID, isLeader bool) error

// Sender drives RPC attempts against the replicas of the tablet covering
// a key, using the location cache for routing and repair.
type Sender struct {
	cache *tabletcache.TabletCache
	cfg   Config
}

// NewSender returns a Sender dispatching through the given cache.
func NewSender(cache *tabletcache.TabletCache, cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sender{cache: cache, cfg: cfg}, nil
}

// SendToTablet locates the tablet of table covering key and invokes send
// against its believed leader (or, leader unknown, another servable
// replica), retrying with backoff on transient failures. Between attempts
// the failure's classification repairs the route:
//
//   - a NotLeaderError demotes the cached leader;
//   - a ReplicaUnavailableError removes that server from the servable set;
//   - any other IOError removes the server the attempt used;
//   - a TabletNotFoundError evicts the cached location so the next
//     attempt refetches it;
//   - TimedOut retries as-is.
//
// Aborted and every other non-retryable classification propagate
// immediately. The returned error is always classified.
func (s *Sender) SendToTablet(
	ctx context.Context, table kestrelpb.TableID, key kestrelpb.EncodedKey, send SendFunc,
) error {
	ctx = logtags.AddTag(ctx, "table", string(table))
	var lastErr *kestrelpb.Error
	for r := retry.StartWithCtx(ctx, s.cfg.retryOptions()); r.Next(); {
		tErr := s.sendOnce(ctx, table, key, send)
		if tErr == nil {
			return nil
		}
		if !shouldRetry(tErr) {
			return tErr
		}
		log.Infof(ctx, "retrying send after attempt %d failed: %v", r.CurrentAttempt()+1, tErr)
		lastErr = tErr
	}
	if err := ctx.Err(); err != nil {
		return kestrelpb.Classify(err)
	}
	if lastErr == nil {
		// Unreachable with a validated config, but never return nil for a
		// loop that did no work.
		return kestrelpb.NewErrorf(kestrelpb.CodeTimedOut, "send to table %s made no attempts", table)
	}
	return kestrelpb.WrapError(kestrelpb.CodeTimedOut, lastErr,
		"exhausted send attempts against table "+string(table))
}

// sendOnce performs a single resolve-and-send attempt. A nil return means
// success; otherwise the classified failure is returned with the route it
// used recorded for repair.
func (s *Sender) sendOnce(
	ctx context.Context, table kestrelpb.TableID, key kestrelpb.EncodedKey, send SendFunc,
) *kestrelpb.Error {
	lookupCtx, cancel := s.withLookupTimeout(ctx)
	loc, err := s.cache.LookupTablet(lookupCtx, table, key)
	cancel()
	if err != nil {
		return kestrelpb.Classify(err)
	}

	server, isLeader, ok := loc.PickServer()
	if !ok {
		// Every replica has been pruned; the location is beyond repair.
		loc.MarkStale()
		return kestrelpb.NewErrorf(kestrelpb.CodeIOError,
			"no servable replica known for tablet %s", loc.TabletID())
	}

	if err := send(logtags.AddTag(ctx, "tablet", loc.String()), server, isLeader); err != nil {
		tErr := kestrelpb.Classify(err)
		s.repairRoute(ctx, table, loc.TabletID(), server, tErr)
		return tErr
	}
	return nil
}

// repairRoute applies the failure's classification to the cached location
// the attempt was routed by.
func (s *Sender) repairRoute(
	ctx context.Context,
	table kestrelpb.TableID,
	tablet kestrelpb.TabletID,
	server kestrelpb.ServerID,
	tErr *kestrelpb.Error,
) {
	var notLeader *kestrelpb.NotLeaderError
	var notFound *kestrelpb.TabletNotFoundError
	var unavailable *kestrelpb.ReplicaUnavailableError
	switch {
	case errors.As(tErr, &notLeader):
		s.cache.InvalidateLeader(ctx, table, tablet, server)
	case errors.As(tErr, &notFound):
		s.cache.EvictTablet(ctx, table, tablet)
	case errors.As(tErr, &unavailable):
		s.cache.InvalidateReplica(ctx, table, tablet, unavailable.Server)
	case tErr.Code() == kestrelpb.CodeIOError:
		// An unattributed transport failure still names the server the
		// attempt used.
		s.cache.InvalidateReplica(ctx, table, tablet, server)
	}
}

// shouldRetry decides whether the loop continues. TimedOut and IOError are
// potentially transient; a TabletNotFoundError is also worth one more
// lookup, since its eviction already cleared the way for a fresh fetch.
func shouldRetry(tErr *kestrelpb.Error) bool {
	if tErr.Code().Retryable() {
		return true
	}
	var notFound *kestrelpb.TabletNotFoundError
	return errors.As(tErr, &notFound)
}

func (s *Sender) withLookupTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.LookupTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(s.cfg.LookupTimeout))
}
