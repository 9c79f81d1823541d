// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package searcher keeps a replica's local segments aligned with the
// metadata store and serves index views out of an in-process cache.
package searcher

import (
	"container/list"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/metrics"
	"github.com/stratosearch/stratos/internal/objectstore"
	"github.com/stratosearch/stratos/internal/vector"
)

// releaseWait is the polling interval while waiting for borrows to drop
// before deleting a segment's files.
const releaseWait = 20 * time.Millisecond

// openSegment is one cached, open segment of either family.
type openSegment struct {
	row    *metadata.Segment
	dir    string
	vec    *vector.Reader
	inv    *invindex.Segment
	refs   *atomic.Int32
	lruElt *list.Element
}

func (s *openSegment) close() {
	if s.inv != nil {
		if err := s.inv.Close(); err != nil {
			log.Warn("closing cached segment", zap.String("segmentID", s.row.ID.String()), zap.Error(err))
		}
	}
}

// SegmentCache downloads, opens and shares segments. Concurrent opens of the
// same segment coalesce through a load guard; open handles are recycled LRU
// when a bound is configured.
type SegmentCache struct {
	storage objectstore.ObjectStore
	dataDir string
	// maxOpen bounds open handles; zero means unbounded.
	maxOpen int

	mu       sync.Mutex
	segments map[metadata.SegmentID]*openSegment
	lru      *list.List // least recently used at the front

	guard singleflight.Group
}

// NewSegmentCache roots the cache at dataDir.
func NewSegmentCache(storage objectstore.ObjectStore, dataDir string, maxOpen int) (*SegmentCache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errdef.IO(err, "creating data dir %s", dataDir)
	}
	return &SegmentCache{
		storage:  storage,
		dataDir:  dataDir,
		maxOpen:  maxOpen,
		segments: make(map[metadata.SegmentID]*openSegment),
		lru:      list.New(),
	}, nil
}

func (c *SegmentCache) segmentDir(id metadata.SegmentID) string {
	return filepath.Join(c.dataDir, id.String())
}

// Borrow opens (or reuses) a segment and takes a reference. The caller must
// release it once the view is dropped.
func (c *SegmentCache) Borrow(ctx context.Context, idx *metadata.Index, row *metadata.Segment) (*openSegment, error) {
	if row.State == metadata.SegmentMarkedForDeletion {
		return nil, errdef.Conflict("segment %s is marked for deletion", row.ID)
	}

	c.mu.Lock()
	if seg, ok := c.segments[row.ID]; ok {
		seg.refs.Inc()
		c.lru.MoveToBack(seg.lruElt)
		c.mu.Unlock()
		metrics.IndexCacheEvents.WithLabelValues("hit").Inc()
		return seg, nil
	}
	c.mu.Unlock()
	metrics.IndexCacheEvents.WithLabelValues("miss").Inc()

	// The load guard makes concurrent loads of one segment share the work.
	v, err, _ := c.guard.Do(row.ID.String(), func() (interface{}, error) {
		return c.load(ctx, idx, row)
	})
	if err != nil {
		return nil, err
	}
	seg := v.(*openSegment)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.segments[row.ID]; ok {
		existing.refs.Inc()
		return existing, nil
	}
	seg.lruElt = c.lru.PushBack(row.ID)
	c.segments[row.ID] = seg
	seg.refs.Inc()
	c.evictLocked()
	return seg, nil
}

func (c *SegmentCache) load(ctx context.Context, idx *metadata.Index, row *metadata.Segment) (*openSegment, error) {
	dir := c.segmentDir(row.ID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := objectstore.DownloadAndUnpack(ctx, c.storage, row.StorageKey(), dir); err != nil {
			return nil, err
		}
	}

	seg := &openSegment{row: row, dir: dir, refs: atomic.NewInt32(0)}
	var err error
	switch idx.Kind {
	case metadata.KindVector:
		var config *vector.Config
		if config, err = vector.ParseConfig(idx.Config); err == nil {
			seg.vec, err = vector.Open(dir, config)
		}
	default:
		seg.inv, err = invindex.Open(dir)
	}
	if err != nil {
		// Corrupt segments stay on disk for diagnosis but leave the cache.
		if errdef.Kind(err) == errdef.KindCorrupted {
			log.Error("segment corrupted on open",
				zap.String("segmentID", row.ID.String()), zap.Error(err))
		}
		return nil, err
	}
	return seg, nil
}

// Release drops one borrow.
func (c *SegmentCache) Release(seg *openSegment) {
	seg.refs.Dec()
}

// evictLocked closes least-recently-used unborrowed handles over the bound.
func (c *SegmentCache) evictLocked() {
	if c.maxOpen <= 0 {
		return
	}
	for e := c.lru.Front(); e != nil && len(c.segments) > c.maxOpen; {
		next := e.Next()
		id := e.Value.(metadata.SegmentID)
		seg := c.segments[id]
		if seg != nil && seg.refs.Load() == 0 {
			seg.close()
			delete(c.segments, id)
			c.lru.Remove(e)
		}
		e = next
	}
}

// Remove waits for every borrow to drop, closes the handle and deletes the
// local files. Called when a segment is marked for deletion.
func (c *SegmentCache) Remove(ctx context.Context, id metadata.SegmentID) error {
	c.mu.Lock()
	seg, ok := c.segments[id]
	if ok {
		delete(c.segments, id)
		c.lru.Remove(seg.lruElt)
	}
	c.mu.Unlock()

	if ok {
		for seg.refs.Load() > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(releaseWait):
			}
		}
		seg.close()
	}
	if err := os.RemoveAll(c.segmentDir(id)); err != nil {
		return errdef.IO(err, "deleting local segment %s", id)
	}
	return nil
}
