// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package metadata defines the rows of the shared metadata store and the
// transactional contract every implementation must honor. The store is the
// only serialization point between writers, mergers and replicas.
package metadata

import (
	"time"

	"github.com/google/uuid"

	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// IndexKind tags the indexer family a segment belongs to.
type IndexKind string

const (
	KindText      IndexKind = "text"
	KindParagraph IndexKind = "paragraph"
	KindVector    IndexKind = "vector"
	KindRelation  IndexKind = "relation"
)

// SegmentState is the lifecycle flag of a segment row.
type SegmentState int32

const (
	// SegmentPending is a row whose files are not fully uploaded yet.
	SegmentPending SegmentState = iota
	// SegmentReady is visible to readers.
	SegmentReady
	// SegmentMarkedForDeletion may no longer be referenced by new opens.
	SegmentMarkedForDeletion
)

func (s SegmentState) String() string {
	switch s {
	case SegmentPending:
		return "pending"
	case SegmentReady:
		return "ready"
	case SegmentMarkedForDeletion:
		return "marked_for_deletion"
	default:
		return "unknown"
	}
}

// SegmentID is the globally unique identifier of a segment artifact.
type SegmentID = uuid.UUID

// Shard is the unit of horizontal partitioning. It owns several indexes.
type Shard struct {
	ID   string
	KBID string
}

// Index is a row per (shard, kind, name). All segments of an index share the
// typed config blob.
type Index struct {
	ID        typeutil.IndexID
	ShardID   string
	Kind      IndexKind
	Name      string
	Config    []byte
	UpdatedAt time.Time
}

// Segment is an immutable artifact row.
type Segment struct {
	ID        SegmentID
	IndexID   typeutil.IndexID
	Kind      IndexKind
	Seq       typeutil.Seq
	Records   int64
	SizeBytes int64
	// Metadata is the opaque per-kind blob produced at seal time.
	Metadata []byte
	State    SegmentState
	// Merging is set while a scheduled merge job references the segment.
	Merging   bool
	CreatedAt time.Time
}

// StorageKey is the object-store key of the packed segment.
func (s *Segment) StorageKey() string {
	return "segment/" + s.ID.String()
}

// Deletion hides records by key prefix. A record in a segment with sequence
// sseg is hidden when a deletion with a matching prefix and Seq > sseg exists.
type Deletion struct {
	IndexID   typeutil.IndexID
	KeyPrefix string
	Seq       typeutil.Seq
}

// MergeJob instructs a worker to combine Segments into one artifact stamped
// with Seq. A worker holds the job by extending RunningAt via heartbeats.
type MergeJob struct {
	ID         typeutil.JobID
	IndexID    typeutil.IndexID
	SegmentIDs []SegmentID
	// Seq is max seq over the inputs; deletions up to it are materialized.
	Seq        typeutil.Seq
	EnqueuedAt time.Time
	// RunningAt is the last heartbeat; zero when the job is unclaimed.
	RunningAt time.Time
	Retries   int
	Parked    bool
}
