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
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// segmentItem orders the segment tree by (index, seq, id).
type segmentItem struct {
	seg   *Segment
	stamp int64
}

func segmentLess(a, b *segmentItem) bool {
	if a.seg.IndexID != b.seg.IndexID {
		return a.seg.IndexID < b.seg.IndexID
	}
	if a.seg.Seq != b.seg.Seq {
		return a.seg.Seq < b.seg.Seq
	}
	return bytes.Compare(a.seg.ID[:], b.seg.ID[:]) < 0
}

type shardSeqs struct {
	next     typeutil.Seq
	inflight map[typeutil.Seq]struct{}
}

// MemoryStore is the reference Store implementation. Production deployments
// back the same contract with a relational database; tests and single-node
// setups use this one. A single mutex makes every method a transaction.
type MemoryStore struct {
	mu sync.RWMutex

	shards    map[string]*Shard
	indexes   map[typeutil.IndexID]*Index
	indexesBy map[string][]typeutil.IndexID // shardID -> index ids
	seqs      map[string]*shardSeqs
	segments  *btree.BTreeG[*segmentItem]
	segByID   map[SegmentID]*segmentItem
	deletions map[typeutil.IndexID][]*Deletion
	jobs      []*MergeJob

	nextIndexID typeutil.IndexID
	nextJobID   typeutil.JobID
	cursor      int64

	watch chan struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards:    make(map[string]*Shard),
		indexes:   make(map[typeutil.IndexID]*Index),
		indexesBy: make(map[string][]typeutil.IndexID),
		seqs:      make(map[string]*shardSeqs),
		segments:  btree.NewG[*segmentItem](8, segmentLess),
		segByID:   make(map[SegmentID]*segmentItem),
		deletions: make(map[typeutil.IndexID][]*Deletion),
		watch:     make(chan struct{}, 1),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) notify() {
	select {
	case m.watch <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) CreateShard(_ context.Context, kbid string) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shard := &Shard{ID: uuid.NewString(), KBID: kbid}
	m.shards[shard.ID] = shard
	m.seqs[shard.ID] = &shardSeqs{next: 1, inflight: make(map[typeutil.Seq]struct{})}
	return shard, nil
}

func (m *MemoryStore) GetShard(_ context.Context, id string) (*Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shard, ok := m.shards[id]
	if !ok {
		return nil, errdef.NotFound("shard %s", id)
	}
	return shard, nil
}

func (m *MemoryStore) CreateIndex(_ context.Context, shardID string, kind IndexKind, name string, config []byte) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shards[shardID]; !ok {
		return nil, errdef.NotFound("shard %s", shardID)
	}
	for _, id := range m.indexesBy[shardID] {
		idx := m.indexes[id]
		if idx.Kind == kind && idx.Name == name {
			return nil, errdef.Conflict("index %s/%s already exists in shard %s", kind, name, shardID)
		}
	}
	m.nextIndexID++
	idx := &Index{
		ID:        m.nextIndexID,
		ShardID:   shardID,
		Kind:      kind,
		Name:      name,
		Config:    config,
		UpdatedAt: time.Now(),
	}
	m.indexes[idx.ID] = idx
	m.indexesBy[shardID] = append(m.indexesBy[shardID], idx.ID)
	return idx, nil
}

func (m *MemoryStore) GetIndex(_ context.Context, id typeutil.IndexID) (*Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[id]
	if !ok {
		return nil, errdef.NotFound("index %d", id)
	}
	return idx, nil
}

func (m *MemoryStore) ListIndexes(_ context.Context, shardID string) ([]*Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.shards[shardID]; !ok {
		return nil, errdef.NotFound("shard %s", shardID)
	}
	out := make([]*Index, 0, len(m.indexesBy[shardID]))
	for _, id := range m.indexesBy[shardID] {
		out = append(out, m.indexes[id])
	}
	return out, nil
}

func (m *MemoryStore) BeginWrite(_ context.Context, shardID string) (typeutil.Seq, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seqs, ok := m.seqs[shardID]
	if !ok {
		return 0, errdef.NotFound("shard %s", shardID)
	}
	seq := seqs.next
	seqs.next++
	seqs.inflight[seq] = struct{}{}
	return seq, nil
}

func (m *MemoryStore) CommitWrite(_ context.Context, shardID string, seq typeutil.Seq, segments []*Segment, deletions []*Deletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seqs, ok := m.seqs[shardID]
	if !ok {
		return errdef.NotFound("shard %s", shardID)
	}
	if _, ok := seqs.inflight[seq]; !ok {
		return errdef.Conflict("seq %d of shard %s is not in flight", seq, shardID)
	}
	for _, seg := range segments {
		if _, ok := m.indexes[seg.IndexID]; !ok {
			return errdef.NotFound("index %d", seg.IndexID)
		}
	}
	delete(seqs.inflight, seq)
	m.cursor++
	for _, seg := range segments {
		seg.Seq = seq
		seg.State = SegmentReady
		if seg.CreatedAt.IsZero() {
			seg.CreatedAt = time.Now()
		}
		item := &segmentItem{seg: seg, stamp: m.cursor}
		m.segments.ReplaceOrInsert(item)
		m.segByID[seg.ID] = item
	}
	for _, del := range deletions {
		del.Seq = seq
		m.deletions[del.IndexID] = append(m.deletions[del.IndexID], del)
	}
	m.notify()
	return nil
}

func (m *MemoryStore) AbortWrite(_ context.Context, shardID string, seq typeutil.Seq) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seqs, ok := m.seqs[shardID]; ok {
		delete(seqs.inflight, seq)
	}
	return nil
}

func (m *MemoryStore) GetSegment(_ context.Context, id SegmentID) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.segByID[id]
	if !ok {
		return nil, errdef.NotFound("segment %s", id)
	}
	return item.seg, nil
}

func (m *MemoryStore) listSegmentsLocked(indexID typeutil.IndexID, filter func(*Segment) bool) []*Segment {
	var out []*Segment
	pivot := &segmentItem{seg: &Segment{IndexID: indexID}}
	m.segments.AscendGreaterOrEqual(pivot, func(item *segmentItem) bool {
		if item.seg.IndexID != indexID {
			return false
		}
		if filter == nil || filter(item.seg) {
			out = append(out, item.seg)
		}
		return true
	})
	return out
}

func (m *MemoryStore) ListSegments(_ context.Context, indexID typeutil.IndexID) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.indexes[indexID]; !ok {
		return nil, errdef.NotFound("index %d", indexID)
	}
	return m.listSegmentsLocked(indexID, func(s *Segment) bool {
		return s.State == SegmentReady
	}), nil
}

func (m *MemoryStore) MergeCandidates(_ context.Context, indexID typeutil.IndexID) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[indexID]
	if !ok {
		return nil, errdef.NotFound("index %d", indexID)
	}
	maxSeq := m.seqs[idx.ShardID].next - 1
	for seq := range m.seqs[idx.ShardID].inflight {
		if seq-1 < maxSeq {
			maxSeq = seq - 1
		}
	}
	candidates := m.listSegmentsLocked(indexID, func(s *Segment) bool {
		return s.State == SegmentReady && !s.Merging && s.Seq <= maxSeq
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Records > candidates[j].Records
	})
	return candidates, nil
}

func (m *MemoryStore) DeletionsForIndex(_ context.Context, indexID typeutil.IndexID, upTo typeutil.Seq) ([]*Deletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Deletion
	for _, del := range m.deletions[indexID] {
		if del.Seq <= upTo {
			out = append(out, del)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) PurgeDeletions(_ context.Context, indexID typeutil.IndexID, below typeutil.Seq) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.deletions[indexID][:0]
	for _, del := range m.deletions[indexID] {
		if del.Seq >= below {
			kept = append(kept, del)
		}
	}
	m.deletions[indexID] = kept
	return nil
}

func (m *MemoryStore) CreateMergeJob(_ context.Context, indexID typeutil.IndexID, segments []SegmentID, seq typeutil.Seq) (*MergeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indexes[indexID]; !ok {
		return nil, errdef.NotFound("index %d", indexID)
	}
	for _, id := range segments {
		item, ok := m.segByID[id]
		if !ok {
			return nil, errdef.NotFound("segment %s", id)
		}
		if item.seg.Merging || item.seg.State != SegmentReady {
			return nil, errdef.Conflict("segment %s is not mergeable", id)
		}
	}
	m.nextJobID++
	job := &MergeJob{
		ID:         m.nextJobID,
		IndexID:    indexID,
		SegmentIDs: segments,
		Seq:        seq,
		EnqueuedAt: time.Now(),
	}
	for _, id := range segments {
		m.segByID[id].seg.Merging = true
	}
	m.jobs = append(m.jobs, job)
	return job, nil
}

func (m *MemoryStore) TakePendingJob(_ context.Context, now time.Time) (*MergeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Parked {
			continue
		}
		if job.RunningAt.IsZero() || now.Sub(job.RunningAt) > leaseDuration {
			job.RunningAt = now
			return job, nil
		}
	}
	return nil, nil
}

// leaseDuration is how long a claimed job survives without heartbeats before
// another worker may steal it.
const leaseDuration = 90 * time.Second

func (m *MemoryStore) KeepAlive(_ context.Context, jobID typeutil.JobID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.ID == jobID {
			job.RunningAt = now
			return nil
		}
	}
	return errdef.NotFound("merge job %d", jobID)
}

func (m *MemoryStore) FailJob(_ context.Context, jobID typeutil.JobID, maxRetries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.ID != jobID {
			continue
		}
		job.Retries++
		job.RunningAt = time.Time{}
		if job.Retries >= maxRetries {
			job.Parked = true
		}
		return nil
	}
	return errdef.NotFound("merge job %d", jobID)
}

func (m *MemoryStore) CompleteMerge(_ context.Context, jobID typeutil.JobID, merged *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobIdx := -1
	var job *MergeJob
	for i, j := range m.jobs {
		if j.ID == jobID {
			jobIdx, job = i, j
			break
		}
	}
	if job == nil {
		// Already committed by a previous attempt.
		return nil
	}

	m.cursor++
	if merged != nil {
		merged.IndexID = job.IndexID
		merged.Seq = job.Seq
		merged.State = SegmentReady
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = time.Now()
		}
		item := &segmentItem{seg: merged, stamp: m.cursor}
		m.segments.ReplaceOrInsert(item)
		m.segByID[merged.ID] = item
	}
	for _, id := range job.SegmentIDs {
		if item, ok := m.segByID[id]; ok {
			item.seg.State = SegmentMarkedForDeletion
			item.seg.Merging = false
			item.stamp = m.cursor
		}
	}
	if idx, ok := m.indexes[job.IndexID]; ok {
		idx.UpdatedAt = time.Now()
	}
	m.jobs = append(m.jobs[:jobIdx], m.jobs[jobIdx+1:]...)
	m.notify()
	return nil
}

func (m *MemoryStore) JobSegments(_ context.Context, jobID typeutil.JobID) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, job := range m.jobs {
		if job.ID != jobID {
			continue
		}
		out := make([]*Segment, 0, len(job.SegmentIDs))
		for _, id := range job.SegmentIDs {
			item, ok := m.segByID[id]
			if !ok {
				return nil, errdef.NotFound("segment %s", id)
			}
			out = append(out, item.seg)
		}
		return out, nil
	}
	return nil, errdef.NotFound("merge job %d", jobID)
}

func (m *MemoryStore) PurgeSegment(_ context.Context, id SegmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.segByID[id]
	if !ok {
		return nil
	}
	if item.seg.State != SegmentMarkedForDeletion {
		return errdef.Conflict("segment %s is still %s", id, item.seg.State)
	}
	m.segments.Delete(item)
	delete(m.segByID, id)
	return nil
}

func (m *MemoryStore) Changes(_ context.Context, cursor int64) (*ChangeSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := &ChangeSet{Cursor: cursor}
	m.segments.Ascend(func(item *segmentItem) bool {
		if item.stamp > cursor {
			set.Segments = append(set.Segments, item.seg)
			if item.stamp > set.Cursor {
				set.Cursor = item.stamp
			}
		}
		return true
	})
	for _, idx := range m.indexes {
		set.Indexes = append(set.Indexes, idx)
	}
	return set, nil
}

func (m *MemoryStore) Watch() <-chan struct{} {
	return m.watch
}
