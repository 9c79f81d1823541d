// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package merge

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/util/typeutil"
)

const defaultScheduleInterval = 30 * time.Second

// Scheduler periodically re-evaluates the merge policy over every index and
// enqueues the resulting jobs.
type Scheduler struct {
	store    metadata.Store
	settings Settings
	interval time.Duration
	shards   func(ctx context.Context) ([]string, error)

	quit chan struct{}
	done chan struct{}
}

// NewScheduler builds a scheduler over the given shard lister.
func NewScheduler(store metadata.Store, settings Settings, shards func(ctx context.Context) ([]string, error)) *Scheduler {
	return &Scheduler{
		store:    store,
		settings: settings,
		interval: defaultScheduleInterval,
		shards:   shards,
	}
}

// Start launches the evaluation loop.
func (s *Scheduler) Start() {
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				log.Info("merge scheduler quit")
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				if err := s.Evaluate(ctx); err != nil {
					log.Warn("merge evaluation failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

// Stop terminates the loop and waits for it.
func (s *Scheduler) Stop() {
	close(s.quit)
	<-s.done
}

// Evaluate plans merges for every index of every shard and enqueues them.
func (s *Scheduler) Evaluate(ctx context.Context) error {
	shardIDs, err := s.shards(ctx)
	if err != nil {
		return err
	}
	for _, shardID := range shardIDs {
		indexes, err := s.store.ListIndexes(ctx, shardID)
		if err != nil {
			return err
		}
		for _, idx := range indexes {
			if err := s.evaluateIndex(ctx, idx.ID); err != nil {
				log.Warn("planning merges failed",
					zap.Int64("indexID", idx.ID), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Scheduler) evaluateIndex(ctx context.Context, indexID typeutil.IndexID) error {
	// Candidates come back ready, unscheduled, records descending, and
	// capped at one below the oldest in-flight write.
	candidates, err := s.store.MergeCandidates(ctx, indexID)
	if err != nil {
		return err
	}
	bySegment := lo.KeyBy(candidates, func(seg *metadata.Segment) metadata.SegmentID {
		return seg.ID
	})
	metas := lo.Map(candidates, func(seg *metadata.Segment, _ int) SegmentMeta {
		return SegmentMeta{ID: seg.ID, Records: seg.Records}
	})

	for _, group := range Plan(s.settings, metas) {
		var target typeutil.Seq
		for _, id := range group {
			if seq := bySegment[id].Seq; seq > target {
				target = seq
			}
		}
		job, err := s.store.CreateMergeJob(ctx, indexID, group, target)
		if err != nil {
			return err
		}
		log.Info("scheduled merge job",
			zap.Int64("jobID", job.ID),
			zap.Int64("indexID", indexID),
			zap.Int("segments", len(group)),
			zap.Int64("targetSeq", target))
	}
	return nil
}
