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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, store *MemoryStore) (*Shard, *Index) {
	t.Helper()
	ctx := context.Background()
	shard, err := store.CreateShard(ctx, "kb1")
	require.NoError(t, err)
	idx, err := store.CreateIndex(ctx, shard.ID, KindVector, "default", []byte(`{"dimension":8}`))
	require.NoError(t, err)
	return shard, idx
}

func commitSegment(t *testing.T, store *MemoryStore, shard *Shard, idx *Index, records int64) *Segment {
	t.Helper()
	ctx := context.Background()
	seq, err := store.BeginWrite(ctx, shard.ID)
	require.NoError(t, err)
	seg := &Segment{ID: uuid.New(), IndexID: idx.ID, Kind: idx.Kind, Records: records}
	require.NoError(t, store.CommitWrite(ctx, shard.ID, seq, []*Segment{seg}, nil))
	return seg
}

func TestSeqMonotonicity(t *testing.T) {
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)

	var last int64
	for i := 0; i < 10; i++ {
		seg := commitSegment(t, store, shard, idx, 10)
		assert.Greater(t, seg.Seq, last)
		last = seg.Seq
	}
}

func TestDuplicateIndexConflicts(t *testing.T) {
	store := NewMemoryStore()
	shard, _ := newTestIndex(t, store)
	_, err := store.CreateIndex(context.Background(), shard.ID, KindVector, "default", nil)
	assert.Error(t, err)
}

func TestMergeCandidatesRespectInflightWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)

	commitSegment(t, store, shard, idx, 100) // seq 1
	commitSegment(t, store, shard, idx, 200) // seq 2

	// An in-flight write at seq 3 pins the candidate ceiling to 2.
	pending, err := store.BeginWrite(ctx, shard.ID)
	require.NoError(t, err)

	commitSegment(t, store, shard, idx, 300) // seq 4

	candidates, err := store.MergeCandidates(ctx, idx.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	// Ordered by record count descending for the planner.
	assert.Equal(t, int64(200), candidates[0].Records)
	assert.Equal(t, int64(100), candidates[1].Records)

	require.NoError(t, store.AbortWrite(ctx, shard.ID, pending))
	candidates, err = store.MergeCandidates(ctx, idx.ID)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestTakePendingJobAndLease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)
	a := commitSegment(t, store, shard, idx, 10)
	b := commitSegment(t, store, shard, idx, 20)

	job, err := store.CreateMergeJob(ctx, idx.ID, []SegmentID{a.ID, b.ID}, b.Seq)
	require.NoError(t, err)

	now := time.Now()
	claimed, err := store.TakePendingJob(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)

	// The lease blocks a second claim until it expires.
	again, err := store.TakePendingJob(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, again)

	stolen, err := store.TakePendingJob(ctx, now.Add(leaseDuration+time.Second))
	require.NoError(t, err)
	require.NotNil(t, stolen)
	assert.Equal(t, job.ID, stolen.ID)

	// Heartbeats extend the lease.
	require.NoError(t, store.KeepAlive(ctx, job.ID, now.Add(2*leaseDuration)))
	again, err = store.TakePendingJob(ctx, now.Add(2*leaseDuration+time.Second))
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestSegmentsUnderMergeAreNotCandidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)
	a := commitSegment(t, store, shard, idx, 10)
	commitSegment(t, store, shard, idx, 20)

	_, err := store.CreateMergeJob(ctx, idx.ID, []SegmentID{a.ID}, a.Seq)
	require.NoError(t, err)

	candidates, err := store.MergeCandidates(ctx, idx.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int64(20), candidates[0].Records)
}

func TestCompleteMergeTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)
	a := commitSegment(t, store, shard, idx, 10)
	b := commitSegment(t, store, shard, idx, 20)

	job, err := store.CreateMergeJob(ctx, idx.ID, []SegmentID{a.ID, b.ID}, b.Seq)
	require.NoError(t, err)

	merged := &Segment{ID: uuid.New(), Kind: idx.Kind, Records: 30}
	require.NoError(t, store.CompleteMerge(ctx, job.ID, merged))

	ready, err := store.ListSegments(ctx, idx.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, merged.ID, ready[0].ID)
	assert.Equal(t, b.Seq, ready[0].Seq)

	retiredA, err := store.GetSegment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, SegmentMarkedForDeletion, retiredA.State)

	// Running the completion again is a no-op.
	require.NoError(t, store.CompleteMerge(ctx, job.ID, merged))
	ready, err = store.ListSegments(ctx, idx.ID)
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestEmptyMergeRetiresInputs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)
	a := commitSegment(t, store, shard, idx, 10)

	job, err := store.CreateMergeJob(ctx, idx.ID, []SegmentID{a.ID}, a.Seq)
	require.NoError(t, err)
	require.NoError(t, store.CompleteMerge(ctx, job.ID, nil))

	ready, err := store.ListSegments(ctx, idx.ID)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestFailJobParksAfterRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)
	a := commitSegment(t, store, shard, idx, 10)

	job, err := store.CreateMergeJob(ctx, idx.ID, []SegmentID{a.ID}, a.Seq)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.FailJob(ctx, job.ID, 3))
	}
	claimed, err := store.TakePendingJob(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, claimed, "parked jobs are not handed out")
}

func TestDeletionsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)

	seq, err := store.BeginWrite(ctx, shard.ID)
	require.NoError(t, err)
	require.NoError(t, store.CommitWrite(ctx, shard.ID, seq, nil,
		[]*Deletion{{IndexID: idx.ID, KeyPrefix: "doc1"}}))

	dels, err := store.DeletionsForIndex(ctx, idx.ID, seq)
	require.NoError(t, err)
	require.Len(t, dels, 1)
	assert.Equal(t, seq, dels[0].Seq)

	dels, err = store.DeletionsForIndex(ctx, idx.ID, seq-1)
	require.NoError(t, err)
	assert.Empty(t, dels)

	require.NoError(t, store.PurgeDeletions(ctx, idx.ID, seq+1))
	dels, err = store.DeletionsForIndex(ctx, idx.ID, seq)
	require.NoError(t, err)
	assert.Empty(t, dels)
}

func TestChangesCursor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	shard, idx := newTestIndex(t, store)

	set, err := store.Changes(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, set.Segments)

	seg := commitSegment(t, store, shard, idx, 10)
	set, err = store.Changes(ctx, set.Cursor)
	require.NoError(t, err)
	require.Len(t, set.Segments, 1)
	assert.Equal(t, seg.ID, set.Segments[0].ID)

	// Nothing new after the cursor advances.
	next, err := store.Changes(ctx, set.Cursor)
	require.NoError(t, err)
	assert.Empty(t, next.Segments)
}
