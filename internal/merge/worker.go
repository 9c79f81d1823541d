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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/index"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/metrics"
	"github.com/stratosearch/stratos/internal/objectstore"
	"github.com/stratosearch/stratos/internal/util/paramtable"
)

// Worker claims merge jobs, executes the index-specific merger and commits
// the result atomically against the metadata store.
type Worker struct {
	store   metadata.Store
	storage objectstore.ObjectStore
	params  paramtable.WorkerParams
	retries int
}

// NewWorker wires a worker over the shared stores.
func NewWorker(store metadata.Store, storage objectstore.ObjectStore, params paramtable.WorkerParams, maxRetries int) *Worker {
	return &Worker{store: store, storage: storage, params: params, retries: maxRetries}
}

// Run loops until ctx is done: claim the oldest unstarted job, execute it,
// commit or fail it. Idle workers poll at the configured interval.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.store.TakePendingJob(ctx, time.Now())
		if err != nil {
			return err
		}
		if job == nil {
			select {
			case <-time.After(w.params.IdleWait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		busyStart := time.Now()
		log.Info("running merge job", zap.Int64("jobID", job.ID))
		if err := w.RunJob(ctx, job); err != nil {
			metrics.MergeJobTotal.WithLabelValues("failure").Inc()
			log.Error("merge job failed", zap.Int64("jobID", job.ID), zap.Error(err))
			if ferr := w.store.FailJob(ctx, job.ID, w.retries); ferr != nil {
				log.Warn("releasing failed job", zap.Int64("jobID", job.ID), zap.Error(ferr))
			}
		} else {
			metrics.MergeJobTotal.WithLabelValues("success").Inc()
			log.Info("merge job completed", zap.Int64("jobID", job.ID))
		}
		metrics.WorkerBusySeconds.WithLabelValues("busy").Add(time.Since(busyStart).Seconds())
	}
}

// RunJob executes one claimed job. A heartbeat task renews the lease while
// the merge runs; any failure leaves the job for a future worker.
func (w *Worker) RunJob(ctx context.Context, job *metadata.MergeJob) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeat(ctx, job)

	start := time.Now()
	segments, err := w.store.JobSegments(ctx, job.ID)
	if err != nil {
		if errdef.Kind(err) == errdef.KindNotFound {
			// A previous attempt already committed; redoing it is a no-op.
			return nil
		}
		return err
	}
	idx, err := w.store.GetIndex(ctx, job.IndexID)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg.IndexID != idx.ID {
			return fmt.Errorf("job %d mixes indexes: segment %s belongs to %d", job.ID, seg.ID, seg.IndexID)
		}
	}
	deletions, err := w.store.DeletionsForIndex(ctx, idx.ID, job.Seq)
	if err != nil {
		return err
	}

	workRoot, err := os.MkdirTemp(w.workPath(), "merge-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workRoot)

	// Download inputs in parallel.
	inputs := make([]index.OpenSegment, len(segments))
	group, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		i, seg := i, seg
		group.Go(func() error {
			dir := filepath.Join(workRoot, "in", fmt.Sprint(i))
			if err := objectstore.DownloadAndUnpack(gctx, w.storage, seg.StorageKey(), dir); err != nil {
				return err
			}
			inputs[i] = index.OpenSegment{ID: seg.ID, Dir: dir, Seq: seg.Seq}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	outDir := filepath.Join(workRoot, "out")
	records, blob, err := index.MergeSegments(idx, outDir, inputs, deletionRows(deletions))
	if err != nil {
		return err
	}
	metrics.MergeDuration.WithLabelValues(string(idx.Kind)).Observe(time.Since(start).Seconds())

	if records == 0 {
		// Nothing survived: no upload, inputs still retired, job done.
		return w.store.CompleteMerge(ctx, job.ID, nil)
	}

	merged := &metadata.Segment{
		ID:       uuid.New(),
		IndexID:  idx.ID,
		Kind:     idx.Kind,
		Records:  records,
		Metadata: blob,
	}
	size, err := objectstore.PackAndUpload(ctx, w.storage, outDir, merged.StorageKey())
	if err != nil {
		return err
	}
	merged.SizeBytes = size

	return w.store.CompleteMerge(ctx, job.ID, merged)
}

func (w *Worker) heartbeat(ctx context.Context, job *metadata.MergeJob) {
	ticker := time.NewTicker(w.params.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.KeepAlive(ctx, job.ID, time.Now()); err != nil {
				log.Warn("merge job keep-alive failed", zap.Int64("jobID", job.ID), zap.Error(err))
			}
		}
	}
}

func (w *Worker) workPath() string {
	if w.params.WorkPath != "" {
		return w.params.WorkPath
	}
	return os.TempDir()
}

func deletionRows(deletions []*metadata.Deletion) []metadata.Deletion {
	out := make([]metadata.Deletion, len(deletions))
	for i, d := range deletions {
		out[i] = *d
	}
	return out
}
