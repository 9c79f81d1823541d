// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package searcher

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/cluster"
	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/index"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// SyncedSearcher keeps the replica's segment registry aligned with the
// metadata store and assembles query views for the shards this node owns.
// The control loop is a single task selecting on the poll timer, the store's
// change notifications and shutdown.
type SyncedSearcher struct {
	store    metadata.Store
	cache    *SegmentCache
	selector *cluster.ShardSelector
	interval time.Duration

	mu sync.RWMutex
	// registry is the replica's live picture: per index, the ready segment
	// rows this node serves.
	registry map[typeutil.IndexID][]*metadata.Segment
	indexes  map[typeutil.IndexID]*metadata.Index
	cursor   int64

	quit chan struct{}
	done chan struct{}
}

// NewSyncedSearcher wires the sync loop over its collaborators.
func NewSyncedSearcher(store metadata.Store, cache *SegmentCache, selector *cluster.ShardSelector, interval time.Duration) *SyncedSearcher {
	return &SyncedSearcher{
		store:    store,
		cache:    cache,
		selector: selector,
		interval: interval,
		registry: make(map[typeutil.IndexID][]*metadata.Segment),
		indexes:  make(map[typeutil.IndexID]*metadata.Index),
	}
}

// Start launches the control loop.
func (s *SyncedSearcher) Start() {
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				log.Info("searcher sync quit")
				return
			case <-ticker.C:
			case <-s.store.Watch():
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.interval*10)
			if err := s.SyncOnce(ctx); err != nil {
				log.Warn("searcher sync failed", zap.Error(err))
			}
			cancel()
		}
	}()
}

// Stop terminates the loop and waits for it.
func (s *SyncedSearcher) Stop() {
	close(s.quit)
	<-s.done
}

// SyncOnce applies one round of metadata changes: newly ready segments of
// owned shards are downloaded and registered, retired segments leave the
// registry and their files are deleted once unborrowed.
func (s *SyncedSearcher) SyncOnce(ctx context.Context) error {
	s.mu.RLock()
	cursor := s.cursor
	s.mu.RUnlock()

	changes, err := s.store.Changes(ctx, cursor)
	if err != nil {
		return err
	}

	indexes := make(map[typeutil.IndexID]*metadata.Index, len(changes.Indexes))
	for _, idx := range changes.Indexes {
		indexes[idx.ID] = idx
	}

	for _, seg := range changes.Segments {
		idx, ok := indexes[seg.IndexID]
		if !ok {
			continue
		}
		switch seg.State {
		case metadata.SegmentReady:
			owned, err := s.selector.ShouldServe(idx.ShardID)
			if err != nil {
				return err
			}
			if !owned {
				continue
			}
			// Warm the cache so the first search does not pay the
			// download; the borrow is returned right away.
			borrowed, err := s.cache.Borrow(ctx, idx, seg)
			if err != nil {
				if errdef.Kind(err) == errdef.KindCorrupted {
					log.Error("skipping corrupted segment",
						zap.String("segmentID", seg.ID.String()), zap.Error(err))
					continue
				}
				return err
			}
			s.cache.Release(borrowed)
			s.register(seg)

		case metadata.SegmentMarkedForDeletion:
			s.unregister(seg)
			if err := s.cache.Remove(ctx, seg.ID); err != nil {
				log.Warn("removing retired segment",
					zap.String("segmentID", seg.ID.String()), zap.Error(err))
			}
		}
	}

	s.mu.Lock()
	s.cursor = changes.Cursor
	s.indexes = indexes
	s.mu.Unlock()
	return nil
}

func (s *SyncedSearcher) register(seg *metadata.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.registry[seg.IndexID] {
		if existing.ID == seg.ID {
			return
		}
	}
	s.registry[seg.IndexID] = append(s.registry[seg.IndexID], seg)
}

func (s *SyncedSearcher) unregister(seg *metadata.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.registry[seg.IndexID]
	for i, existing := range rows {
		if existing.ID == seg.ID {
			s.registry[seg.IndexID] = append(rows[:i], rows[i+1:]...)
			return
		}
	}
}

// GetView borrows every registered segment of the index and builds an
// immutable view over them. The caller releases the view after use.
func (s *SyncedSearcher) GetView(ctx context.Context, indexID typeutil.IndexID) (*index.View, error) {
	s.mu.RLock()
	idx, ok := s.indexes[indexID]
	rows := append([]*metadata.Segment(nil), s.registry[indexID]...)
	s.mu.RUnlock()
	if !ok {
		return nil, errdef.NotFound("index %d", indexID)
	}

	owned, err := s.selector.ShouldServe(idx.ShardID)
	if err != nil {
		return nil, err
	}
	if !owned {
		// Shard ownership moved; the caller retries against the new owner.
		return nil, errdef.Conflict("shard %s is not served by this node", idx.ShardID)
	}

	deletions, err := s.store.DeletionsForIndex(ctx, indexID, math.MaxInt64)
	if err != nil {
		return nil, err
	}

	borrowed := make([]*openSegment, 0, len(rows))
	release := func() {
		for _, seg := range borrowed {
			s.cache.Release(seg)
		}
	}

	switch idx.Kind {
	case metadata.KindVector:
		refs := make([]index.VectorSegmentRef, 0, len(rows))
		for _, row := range rows {
			seg, err := s.cache.Borrow(ctx, idx, row)
			if err != nil {
				release()
				return nil, err
			}
			borrowed = append(borrowed, seg)
			refs = append(refs, index.VectorSegmentRef{Reader: seg.vec, Seq: row.Seq})
		}
		return index.NewVectorView(refs, derefDeletions(deletions), release), nil
	default:
		refs := make([]index.InvSegmentRef, 0, len(rows))
		for _, row := range rows {
			seg, err := s.cache.Borrow(ctx, idx, row)
			if err != nil {
				release()
				return nil, err
			}
			borrowed = append(borrowed, seg)
			refs = append(refs, index.InvSegmentRef{Segment: seg.inv, Seq: row.Seq})
		}
		return index.NewInvertedView(idx.Kind, refs, derefDeletions(deletions), release), nil
	}
}

// Indexes lists the indexes of a shard this replica currently knows.
func (s *SyncedSearcher) Indexes(shardID string) []*metadata.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*metadata.Index
	for _, idx := range s.indexes {
		if idx.ShardID == shardID {
			out = append(out, idx)
		}
	}
	return out
}

func derefDeletions(deletions []*metadata.Deletion) []metadata.Deletion {
	out := make([]metadata.Deletion, len(deletions))
	for i, d := range deletions {
		out[i] = *d
	}
	return out
}
