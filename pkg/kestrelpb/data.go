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

// Package kestrelpb holds the value types exchanged between the Kestrel
// master's location service and the client routing layer, along with the
// client's error taxonomy. Types in this package are plain values with no
// behavior beyond ordering, containment and validation; all caching and
// mutation lives in kvclient.
package kestrelpb

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/redact"
)

// TableID identifies a table.
type TableID string

// TabletID identifies a tablet.
type TabletID string

// ServerID is the permanent uuid of a tablet server, as reported by the
// master. It is treated as an opaque string; the client never generates or
// parses one.
type ServerID string

// EncodedKey is the byte-comparable form of a primary key tuple. Byte-wise
// comparison of two EncodedKeys reproduces the logical primary-key order.
// An empty EncodedKey sorts before every non-empty key; as a partition end
// it instead denotes +infinity (see Partition).
type EncodedKey []byte

// Compare returns -1, 0, or +1 depending on whether k sorts before, equal
// to, or after o.
func (k EncodedKey) Compare(o EncodedKey) int {
	return bytes.Compare(k, o)
}

// Equal returns whether k and o hold the same bytes.
func (k EncodedKey) Equal(o EncodedKey) bool {
	return bytes.Equal(k, o)
}

func (k EncodedKey) String() string {
	return fmt.Sprintf("%x", []byte(k))
}

// ReplicaRole is a replica's consensus role as of the last location
// refresh. It is a snapshot, not authoritative after refresh time.
type ReplicaRole int32

const (
	// RoleUnknown is used when the master did not report a role.
	RoleUnknown ReplicaRole = iota
	// RoleLeader marks the replica authorized to accept writes.
	RoleLeader
	// RoleFollower marks a voting replica that is not the leader.
	RoleFollower
	// RoleLearner marks a non-voting replica still catching up.
	RoleLearner
)

func (r ReplicaRole) String() string {
	switch r {
	case RoleLeader:
		return "LEADER"
	case RoleFollower:
		return "FOLLOWER"
	case RoleLearner:
		return "LEARNER"
	default:
		return "UNKNOWN"
	}
}

// ReplicaDescriptor describes one replica of a tablet.
type ReplicaDescriptor struct {
	ServerID ServerID
	Role     ReplicaRole
}

// Partition is the half-open key range [Start, End) served by one tablet.
// An empty End denotes +infinity.
type Partition struct {
	Start EncodedKey
	End   EncodedKey
}

// IsValid returns whether the partition describes a non-empty range.
func (p Partition) IsValid() bool {
	if len(p.End) == 0 {
		return true
	}
	return p.Start.Compare(p.End) < 0
}

// Contains returns whether the partition's range covers key.
func (p Partition) Contains(key EncodedKey) bool {
	if key.Compare(p.Start) < 0 {
		return false
	}
	return len(p.End) == 0 || key.Compare(p.End) < 0
}

// Compare orders partitions by start key, then by end key, with an empty
// end key sorting after every bounded one.
func (p Partition) Compare(o Partition) int {
	if c := p.Start.Compare(o.Start); c != 0 {
		return c
	}
	switch {
	case len(p.End) == 0 && len(o.End) == 0:
		return 0
	case len(p.End) == 0:
		return 1
	case len(o.End) == 0:
		return -1
	}
	return p.End.Compare(o.End)
}

func (p Partition) String() string {
	return redact.StringWithoutMarkers(p)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (p Partition) SafeFormat(w redact.SafePrinter, _ rune) {
	start := redact.RedactableString("-inf")
	if len(p.Start) > 0 {
		start = redact.Sprintf("%s", p.Start.String())
	}
	end := redact.RedactableString("+inf")
	if len(p.End) > 0 {
		end = redact.Sprintf("%s", p.End.String())
	}
	w.Printf("[%s, %s)", start, end)
}

// TabletDescriptor is one record of a master location response: the tablet,
// its partition, and the replica set with per-replica roles.
type TabletDescriptor struct {
	TableID   TableID
	TabletID  TabletID
	Partition Partition
	Replicas  []ReplicaDescriptor
}

// Validate checks the descriptor for internal consistency. A descriptor
// without a leader replica is valid (the tablet may be mid-election); a
// descriptor with several leaders is not.
func (d *TabletDescriptor) Validate() error {
	if d.TableID == "" {
		return NewErrorf(CodeInvalid, "tablet descriptor without table id")
	}
	if d.TabletID == "" {
		return NewErrorf(CodeInvalid, "tablet descriptor for table %s without tablet id", d.TableID)
	}
	if !d.Partition.IsValid() {
		return NewErrorf(CodeInvalid, "tablet %s has empty partition %s", d.TabletID, d.Partition)
	}
	if len(d.Replicas) == 0 {
		return NewErrorf(CodeInvalid, "tablet %s has no replicas", d.TabletID)
	}
	leaders := 0
	for _, r := range d.Replicas {
		if r.ServerID == "" {
			return NewErrorf(CodeInvalid, "tablet %s has replica without server id", d.TabletID)
		}
		if r.Role == RoleLeader {
			leaders++
		}
	}
	if leaders > 1 {
		return NewErrorf(CodeInvalid, "tablet %s reports %d leaders", d.TabletID, leaders)
	}
	return nil
}

// LeaderID returns the server marked leader in the replica list, if any.
func (d *TabletDescriptor) LeaderID() (ServerID, bool) {
	for _, r := range d.Replicas {
		if r.Role == RoleLeader {
			return r.ServerID, true
		}
	}
	return "", false
}
