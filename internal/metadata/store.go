// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package metadata

import (
	"context"
	"time"

	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// ChangeSet is the delta a replica applies to its cache. Cursor is a store
// side change counter, not a shard Seq, so state transitions of old segments
// are observed too.
type ChangeSet struct {
	Cursor   int64
	Segments []*Segment
	Indexes  []*Index
}

// Store is the transactional contract over the metadata rows. All writes are
// serialized per shard by the Seq it issues; implementations must guarantee
// that every method is atomic and that BeginWrite/CommitWrite pairs observe
// strictly increasing sequence numbers.
type Store interface {
	// CreateShard registers a new shard for a knowledge base.
	CreateShard(ctx context.Context, kbid string) (*Shard, error)
	// GetShard resolves a shard by id.
	GetShard(ctx context.Context, id string) (*Shard, error)

	// CreateIndex adds an index row. (shard, kind, name) must be unique.
	CreateIndex(ctx context.Context, shardID string, kind IndexKind, name string, config []byte) (*Index, error)
	GetIndex(ctx context.Context, id typeutil.IndexID) (*Index, error)
	ListIndexes(ctx context.Context, shardID string) ([]*Index, error)

	// BeginWrite issues the next Seq for the shard and marks it in flight.
	// Merges may only combine segments with seq <= the minimum in-flight
	// write, so writers must pair this with CommitWrite or AbortWrite.
	BeginWrite(ctx context.Context, shardID string) (typeutil.Seq, error)
	// CommitWrite atomically inserts the segment rows (as ready) and the
	// deletion rows, all stamped with seq, and retires the in-flight marker.
	CommitWrite(ctx context.Context, shardID string, seq typeutil.Seq, segments []*Segment, deletions []*Deletion) error
	// AbortWrite retires the in-flight marker without publishing anything.
	AbortWrite(ctx context.Context, shardID string, seq typeutil.Seq) error

	GetSegment(ctx context.Context, id SegmentID) (*Segment, error)
	// ListSegments returns the ready segments of an index, seq ascending.
	ListSegments(ctx context.Context, indexID typeutil.IndexID) ([]*Segment, error)
	// MergeCandidates returns ready, not-already-merging segments whose seq
	// is safely below every in-flight write, ordered by record count
	// descending as the merge planner expects.
	MergeCandidates(ctx context.Context, indexID typeutil.IndexID) ([]*Segment, error)

	// DeletionsForIndex returns deletions with seq <= upTo, seq ascending.
	DeletionsForIndex(ctx context.Context, indexID typeutil.IndexID, upTo typeutil.Seq) ([]*Deletion, error)
	// PurgeDeletions drops deletion rows with seq < below; they can no
	// longer hide anything once every live segment is newer.
	PurgeDeletions(ctx context.Context, indexID typeutil.IndexID, below typeutil.Seq) error

	// CreateMergeJob enqueues a job and flags its inputs as merging.
	CreateMergeJob(ctx context.Context, indexID typeutil.IndexID, segments []SegmentID, seq typeutil.Seq) (*MergeJob, error)
	// TakePendingJob atomically claims the oldest job that is unclaimed or
	// whose lease expired before now. Returns nil when there is no work.
	TakePendingJob(ctx context.Context, now time.Time) (*MergeJob, error)
	// KeepAlive extends the lease of a running job.
	KeepAlive(ctx context.Context, jobID typeutil.JobID, now time.Time) error
	// FailJob counts a failed attempt, releasing the lease. Once retries
	// reach maxRetries the job is parked and no longer handed out.
	FailJob(ctx context.Context, jobID typeutil.JobID, maxRetries int) error
	// CompleteMerge commits a merge in one transaction: insert merged (when
	// not nil) as ready, mark the inputs for deletion, bump the index
	// updated-at and delete the job row. Completing an already finished job
	// is a no-op.
	CompleteMerge(ctx context.Context, jobID typeutil.JobID, merged *Segment) error
	// JobSegments resolves the input rows of a job.
	JobSegments(ctx context.Context, jobID typeutil.JobID) ([]*Segment, error)

	// PurgeSegment removes a marked-for-deletion row after its files are gone.
	PurgeSegment(ctx context.Context, id SegmentID) error

	// Changes returns everything that changed after cursor, for replica sync.
	Changes(ctx context.Context, cursor int64) (*ChangeSet, error)
	// Watch returns a channel that receives a tick after every commit. Used
	// by the sync loop to wake up early; polling still applies.
	Watch() <-chan struct{}
}
