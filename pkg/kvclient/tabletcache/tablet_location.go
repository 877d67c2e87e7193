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

package tabletcache

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/kestreldb/kestrel-go/pkg/kestrelpb"
	"github.com/kestreldb/kestrel-go/pkg/util/log"
	"github.com/kestreldb/kestrel-go/pkg/util/syncutil"
)

// TabletLocation is the cached knowledge of one tablet: its partition, the
// replica set reported by the last directory fetch, and the believed
// leader. Its main job, once constructed, is to keep track of where the
// leader is: an RPC resolves the leader through Leader or PickServer,
// contacts that server, finds out it is not the leader anymore, and calls
// DemoteLeader.
//
// A TabletLocation lives long in a cluster where roles rarely change, and
// short when they do: once its leader is unknown or it is marked stale, it
// is never repaired in place. The cache replaces it wholesale with a
// freshly fetched instance.
//
// Two consistency regimes coexist here. The replica snapshot is read on
// every request and written exactly once, at construction, so it sits
// behind an atomic pointer and is only ever swapped wholesale. The leader
// and servable set are mutated one server at a time by many concurrent
// failure handlers, so they sit behind a mutex. Concurrent demotions and
// removals take no particular order; the net effect is whichever mutations
// commit, each atomic under the lock.
type TabletLocation struct {
	tableID   kestrelpb.TableID
	tabletID  kestrelpb.TabletID
	partition kestrelpb.Partition

	// replicas is the replica list from the last directory fetch,
	// including per-replica roles as of that fetch. It is never edited:
	// pruning a dead server affects the servable set below, not this
	// snapshot. A topology change requires a fresh fetch and a cache
	// replacement.
	replicas atomic.Pointer[[]kestrelpb.ReplicaDescriptor]

	mu struct {
		syncutil.Mutex
		// servable is the set of servers still considered able to serve
		// this tablet. Starts as the full replica set, only shrinks.
		servable map[kestrelpb.ServerID]struct{}
		// leader is the believed leader's server id; empty when unknown.
		leader kestrelpb.ServerID
		// stale marks the location as beyond repair. The cache refetches
		// instead of returning a stale location.
		stale bool
	}
}

// NewTabletLocation builds a TabletLocation from one directory record.
// If no replica is marked leader the location starts leader-unknown; that
// is a degraded condition, not an error, and is logged as such.
func NewTabletLocation(ctx context.Context, desc *kestrelpb.TabletDescriptor) *TabletLocation {
	loc := &TabletLocation{
		tableID:   desc.TableID,
		tabletID:  desc.TabletID,
		partition: desc.Partition,
	}
	loc.mu.servable = make(map[kestrelpb.ServerID]struct{}, len(desc.Replicas))
	for _, r := range desc.Replicas {
		loc.mu.servable[r.ServerID] = struct{}{}
		if r.Role == kestrelpb.RoleLeader {
			loc.mu.leader = r.ServerID
		}
	}
	if loc.mu.leader == "" {
		log.Warningf(ctx, "no leader provided for tablet %s", desc.TabletID)
	}

	snapshot := make([]kestrelpb.ReplicaDescriptor, len(desc.Replicas))
	copy(snapshot, desc.Replicas)
	loc.replicas.Store(&snapshot)
	return loc
}

// TableID returns the id of the table this tablet belongs to.
func (t *TabletLocation) TableID() kestrelpb.TableID { return t.tableID }

// TabletID returns the tablet's id.
func (t *TabletLocation) TabletID() kestrelpb.TabletID { return t.tabletID }

// Partition returns the key range this tablet serves.
func (t *TabletLocation) Partition() kestrelpb.Partition { return t.partition }

func (t *TabletLocation) String() string { return string(t.tabletID) }

// Leader returns the server believed to hold the leader replica, or false
// if the leader is unknown.
func (t *TabletLocation) Leader() (kestrelpb.ServerID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mu.leader, t.mu.leader != ""
}

// Replicas returns the replica list from the last directory fetch. The
// returned slice is shared and read-only. It reflects the last-fetched
// topology, not the currently-servable set: servers pruned by
// RemoveReplica still appear here.
func (t *TabletLocation) Replicas() []kestrelpb.ReplicaDescriptor {
	return *t.replicas.Load()
}

// RemoveReplica removes the server from the servable set and returns
// whether it was present. If the server was the believed leader, the
// leader becomes unknown. Removing an absent server is a no-op returning
// false.
func (t *TabletLocation) RemoveReplica(ctx context.Context, server kestrelpb.ServerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.leader == server {
		t.mu.leader = ""
	}
	if _, ok := t.mu.servable[server]; ok {
		delete(t.mu.servable, server)
		return true
	}
	log.Infof(ctx, "tablet %s already removed server %s, %d servable left",
		t.tabletID, server, len(t.mu.servable))
	return false
}

// DemoteLeader clears the believed leader if server is it. A call naming
// any other server is a no-op: it is stale news from an earlier view of
// the tablet. The next write to this tablet will have to consult the
// directory for the new leader.
func (t *TabletLocation) DemoteLeader(ctx context.Context, server kestrelpb.ServerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.mu.leader {
	case "":
		log.Infof(ctx, "%s could not be demoted as leader of tablet %s, no leader is known",
			server, t.tabletID)
	case server:
		t.mu.leader = ""
		log.Infof(ctx, "%s was demoted as leader of tablet %s", server, t.tabletID)
	default:
		log.Infof(ctx, "%s is not the leader of tablet %s, current leader is %s",
			server, t.tabletID, t.mu.leader)
	}
}

// MarkStale marks the location as beyond repair; the cache will refetch it
// on the next lookup.
func (t *TabletLocation) MarkStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.stale = true
}

// IsStale returns whether the location has been marked stale.
func (t *TabletLocation) IsStale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mu.stale
}

// PickServer resolves a server to send to: the believed leader when known,
// otherwise the first still-servable replica in snapshot order. isLeader
// reports which of the two it was. ok is false when every replica has been
// pruned; the caller should mark the location stale and look it up afresh.
func (t *TabletLocation) PickServer() (server kestrelpb.ServerID, isLeader bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.leader != "" {
		return t.mu.leader, true, true
	}
	for _, r := range *t.replicas.Load() {
		if _, servable := t.mu.servable[r.ServerID]; servable {
			return r.ServerID, false, true
		}
	}
	return "", false, false
}

// Compare orders locations by table id, then partition. The tablet id, the
// replica set and the leader are deliberately excluded: a freshly fetched
// location for the same table and partition is "the same entry" even if
// the tablet id changed across a metadata refresh, and simply overwrites
// the old one in the cache. A nil argument sorts first.
func (t *TabletLocation) Compare(o *TabletLocation) int {
	if o == nil {
		return 1
	}
	if c := strings.Compare(string(t.tableID), string(o.tableID)); c != 0 {
		return c
	}
	return t.partition.Compare(o.partition)
}

// Equal returns whether Compare reports the two locations as equal.
func (t *TabletLocation) Equal(o *TabletLocation) bool {
	return t.Compare(o) == 0
}
