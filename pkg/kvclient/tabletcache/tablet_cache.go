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

// Package tabletcache caches tablet locations on the client. It answers
// "which servers hold the tablet covering this key, and which of them is
// the leader", consulting the master's tablet directory on a miss and
// applying failure-driven invalidations (leader demotion, replica
// removal, eviction) fed back by the rpc dispatch layer.
package tabletcache

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/google/btree"
	"golang.org/x/sync/singleflight"

	"github.com/kestreldb/kestrel-go/pkg/kestrelpb"
	"github.com/kestreldb/kestrel-go/pkg/util/log"
	"github.com/kestreldb/kestrel-go/pkg/util/syncutil"
)

// The degree of the per-table location btrees.
const locationBtreeDegree = 16

// directoryFetchTimeout bounds a directory fetch. The fetch is shared by
// every caller coalesced onto it and runs detached from their contexts, so
// it needs its own bound.
const directoryFetchTimeout = 30 * time.Second

// Directory is the external partition-assignment service: it can resolve
// the tablet covering a key of a table. This interface is implemented by
// the master client; the cache uses it to retrieve locations which it then
// caches.
type Directory interface {
	// LookupTablet returns the descriptor of the tablet of the given table
	// whose partition contains key.
	LookupTablet(ctx context.Context, table kestrelpb.TableID, key kestrelpb.EncodedKey) (*kestrelpb.TabletDescriptor, error)
}

// cacheEntry wraps a TabletLocation as a btree item ordered by partition
// start key.
type cacheEntry struct {
	loc *TabletLocation
}

// Less implements the btree.Item interface.
func (e *cacheEntry) Less(o btree.Item) bool {
	return e.loc.partition.Start.Compare(o.(*cacheEntry).loc.partition.Start) < 0
}

// queryEntry returns a btree query item for the given start key.
func queryEntry(key kestrelpb.EncodedKey) *cacheEntry {
	return &cacheEntry{loc: &TabletLocation{partition: kestrelpb.Partition{Start: key}}}
}

// TabletCache is the process-wide table of tablet locations, keyed by
// tablet id and indexed by partition start key for range lookup. It is
// created at client startup and torn down with the client; callers receive
// it explicitly, never through ambient lookup.
//
// Entries are only ever removed by explicit replacement or eviction; there
// is no size-based expiry, and absence always falls back to the directory,
// never to a guessed route.
type TabletCache struct {
	dir     Directory
	metrics *Metrics

	// lookups coalesces concurrent directory fetches for the same spot in
	// the keyspace; duplicate fetches racing past the coalescing would be
	// wasteful but not unsafe, since a later install simply overwrites an
	// earlier one.
	lookups singleflight.Group

	// coalesced, if not nil, is sent on every time a lookup is coalesced
	// onto another in-flight one. Used by tests to block until a lookup is
	// waiting on the shared fetch.
	coalesced chan struct{}

	flightMu struct {
		syncutil.Mutex
		inFlight map[string]int
	}

	mu struct {
		syncutil.RWMutex
		// tables indexes locations by partition start key, per table.
		tables map[kestrelpb.TableID]*btree.BTree
		// tablets indexes the same locations by tablet id, for the
		// invalidation calls coming from the dispatch layer.
		tablets map[kestrelpb.TableID]map[kestrelpb.TabletID]*TabletLocation
	}
}

// NewTabletCache returns an empty cache resolving misses through dir.
// A nil metrics gets a throwaway registry.
func NewTabletCache(dir Directory, metrics *Metrics) *TabletCache {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	c := &TabletCache{dir: dir, metrics: metrics}
	c.flightMu.inFlight = make(map[string]int)
	c.mu.tables = make(map[kestrelpb.TableID]*btree.BTree)
	c.mu.tablets = make(map[kestrelpb.TableID]map[kestrelpb.TabletID]*TabletLocation)
	return c
}

// joinFlight bookkeeps the in-flight fetch for fk and reports whether one
// was already running. The matching leaveFlight must be called once the
// caller stops waiting on it.
func (c *TabletCache) joinFlight(fk string) bool {
	c.flightMu.Lock()
	joined := c.flightMu.inFlight[fk] > 0
	c.flightMu.inFlight[fk]++
	c.flightMu.Unlock()
	return joined
}

func (c *TabletCache) leaveFlight(fk string) {
	c.flightMu.Lock()
	if c.flightMu.inFlight[fk]--; c.flightMu.inFlight[fk] == 0 {
		delete(c.flightMu.inFlight, fk)
	}
	c.flightMu.Unlock()
}

// LookupTablet returns the location of the tablet of the given table
// covering key. A cached, non-stale location is returned directly; a miss
// or a stale entry triggers a synchronous directory fetch whose result is
// installed in the cache, replacing any entry for the same partition.
// Concurrent lookups for the same spot are coalesced onto one fetch; a
// caller whose context ends while coalesced gets its own context's error,
// classified.
//
// The returned location is shared and owned by the cache. Callers may read
// it and apply the defined invalidations, nothing else.
func (c *TabletCache) LookupTablet(
	ctx context.Context, table kestrelpb.TableID, key kestrelpb.EncodedKey,
) (*TabletLocation, error) {
	c.metrics.Lookups.Inc()
	stale := false
	if loc := c.getCached(table, key); loc != nil {
		if !loc.IsStale() {
			c.metrics.Hits.Inc()
			return loc, nil
		}
		stale = true
	}
	c.metrics.Misses.Inc()

	ctx = logtags.AddTag(ctx, "table", string(table))
	// All callers waiting for the same flight key share one fetch. A
	// caller that is canceled while waiting abandons only its own wait:
	// the fetch below is detached from every caller's cancellation, so
	// the flight leader going away cannot fail the coalesced waiters.
	fk := flightKey(table, key)
	joined := c.joinFlight(fk)
	defer c.leaveFlight(fk)
	ch := c.lookups.DoChan(fk, func() (interface{}, error) {
		// Detach from the caller's cancellation, keeping its log tags,
		// and bound the fetch on its own.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directoryFetchTimeout)
		defer cancel()
		desc, err := c.dir.LookupTablet(ctx, table, key)
		if err != nil {
			return nil, err
		}
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		if !desc.Partition.Contains(key) {
			return nil, kestrelpb.NewErrorf(kestrelpb.CodeInvalid,
				"directory returned tablet %s with partition %s not containing key %s",
				desc.TabletID, desc.Partition, key)
		}
		loc := NewTabletLocation(ctx, desc)
		c.insert(ctx, loc, stale)
		return loc, nil
	})
	if joined && c.coalesced != nil {
		c.coalesced <- struct{}{}
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, kestrelpb.Classify(res.Err)
		}
		return res.Val.(*TabletLocation), nil
	case <-ctx.Done():
		return nil, kestrelpb.Classify(ctx.Err())
	}
}

func flightKey(table kestrelpb.TableID, key kestrelpb.EncodedKey) string {
	return string(table) + "/" + hex.EncodeToString(key)
}

// getCached returns the cached location covering key, or nil. The covering
// candidate is the entry with the greatest partition start not exceeding
// key; it only matches if its partition actually contains key.
func (c *TabletCache) getCached(table kestrelpb.TableID, key kestrelpb.EncodedKey) *TabletLocation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tree, ok := c.mu.tables[table]
	if !ok {
		return nil
	}
	var found *TabletLocation
	tree.DescendLessOrEqual(queryEntry(key), func(i btree.Item) bool {
		found = i.(*cacheEntry).loc
		return false
	})
	if found == nil || !found.partition.Contains(key) {
		return nil
	}
	return found
}

// insert installs loc, overwriting any entry with the same partition start.
func (c *TabletCache) insert(ctx context.Context, loc *TabletLocation, replacingStale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tree, ok := c.mu.tables[loc.tableID]
	if !ok {
		tree = btree.New(locationBtreeDegree)
		c.mu.tables[loc.tableID] = tree
		c.mu.tablets[loc.tableID] = make(map[kestrelpb.TabletID]*TabletLocation)
	}
	if prev := tree.ReplaceOrInsert(&cacheEntry{loc: loc}); prev != nil {
		old := prev.(*cacheEntry).loc
		delete(c.mu.tablets[loc.tableID], old.tabletID)
		c.metrics.Replacements.Inc()
		if !replacingStale && !old.Equal(loc) {
			log.Infof(ctx, "tablet %s replaced cached location %s for partition %s",
				loc.tabletID, old.tabletID, loc.partition)
		}
	}
	c.mu.tablets[loc.tableID][loc.tabletID] = loc
}

// getByTabletID returns the cached location for the given tablet, or nil.
func (c *TabletCache) getByTabletID(table kestrelpb.TableID, tablet kestrelpb.TabletID) *TabletLocation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mu.tablets[table][tablet]
}

// InvalidateLeader demotes the believed leader of the given tablet if it
// is server. Called by the dispatch layer when an RPC to server reported
// it no longer leads the tablet. A miss on the tablet id is a no-op: the
// entry was already replaced or evicted.
func (c *TabletCache) InvalidateLeader(
	ctx context.Context, table kestrelpb.TableID, tablet kestrelpb.TabletID, server kestrelpb.ServerID,
) {
	if loc := c.getByTabletID(table, tablet); loc != nil {
		loc.DemoteLeader(ctx, server)
		c.metrics.Invalidations.Inc()
	}
}

// InvalidateReplica removes server from the given tablet's servable set,
// returning whether it was present. Called by the dispatch layer when a
// failure is attributable to that specific server.
func (c *TabletCache) InvalidateReplica(
	ctx context.Context, table kestrelpb.TableID, tablet kestrelpb.TabletID, server kestrelpb.ServerID,
) bool {
	loc := c.getByTabletID(table, tablet)
	if loc == nil {
		return false
	}
	c.metrics.Invalidations.Inc()
	return loc.RemoveReplica(ctx, server)
}

// EvictTablet drops the cached location of the given tablet, if present,
// and returns whether it did. Used when the tablet itself is reported
// gone; subsequent lookups fall back to the directory.
func (c *TabletCache) EvictTablet(
	ctx context.Context, table kestrelpb.TableID, tablet kestrelpb.TabletID,
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.mu.tablets[table][tablet]
	if !ok {
		return false
	}
	c.mu.tables[table].Delete(&cacheEntry{loc: loc})
	delete(c.mu.tablets[table], tablet)
	c.metrics.Evictions.Inc()
	log.Infof(ctx, "evicted tablet %s of table %s covering %s", tablet, table, loc.partition)
	return true
}

// Clear drops every cached location. Lookups start over from the
// directory.
func (c *TabletCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.tables = make(map[kestrelpb.TableID]*btree.BTree)
	c.mu.tablets = make(map[kestrelpb.TableID]map[kestrelpb.TabletID]*TabletLocation)
}

// Len returns the number of cached locations for the given table.
func (c *TabletCache) Len(table kestrelpb.TableID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tree, ok := c.mu.tables[table]; ok {
		return tree.Len()
	}
	return 0
}
