// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package writer turns resources into sealed segments: one per index the
// resource touches, built locally, packed and uploaded, then registered in a
// single metadata transaction stamped with the write's sequence number.
package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/objectstore"
	"github.com/stratosearch/stratos/internal/util/typeutil"
	"github.com/stratosearch/stratos/internal/vector"
)

// Paragraph is one paragraph of a field with its vector.
type Paragraph struct {
	Start  int
	End    int
	Text   string
	Vector []float32
	Labels []string
}

// Relation is one edge contributed by the resource.
type Relation struct {
	Source   string
	Relation string
	Target   string
}

// Field is one indexable field of a resource.
type Field struct {
	Name       string
	Text       string
	Paragraphs []Paragraph
}

// Resource is the engine-facing shape of an indexed document set.
type Resource struct {
	ID     string
	Fields []Field
	Labels []string
	// AccessGroups tag the resource for security search; empty means
	// public.
	AccessGroups []string
	Facets       []string
	Relations    []Relation
	Created      time.Time
	Modified     time.Time
}

// Writer builds and publishes segments for one shard's indexes.
type Writer struct {
	store    metadata.Store
	storage  objectstore.ObjectStore
	workPath string
}

// NewWriter wires a writer over the shared stores.
func NewWriter(store metadata.Store, storage objectstore.ObjectStore, workPath string) *Writer {
	if workPath == "" {
		workPath = os.TempDir()
	}
	return &Writer{store: store, storage: storage, workPath: workPath}
}

// securityLabels folds the resource's access groups into labels the vector
// index can filter on.
func securityLabels(labels, groups []string) []string {
	out := append([]string(nil), labels...)
	for _, g := range groups {
		out = append(out, "/q/g/"+g)
	}
	return out
}

// IndexResource builds one segment per index of the shard out of the
// resource and commits every row in one transaction. Keys are prefixed by
// the resource id, so a later delete of the resource is a single deletion
// entry.
func (w *Writer) IndexResource(ctx context.Context, shardID string, res *Resource) (typeutil.Seq, error) {
	indexes, err := w.store.ListIndexes(ctx, shardID)
	if err != nil {
		return 0, err
	}
	seq, err := w.store.BeginWrite(ctx, shardID)
	if err != nil {
		return 0, err
	}

	workDir, err := os.MkdirTemp(w.workPath, "write-*")
	if err != nil {
		w.abort(ctx, shardID, seq)
		return 0, errdef.IO(err, "creating writer scratch dir")
	}
	defer os.RemoveAll(workDir)

	var rows []*metadata.Segment
	for _, idx := range indexes {
		row, err := w.buildFor(ctx, idx, res, filepath.Join(workDir, string(idx.Kind)))
		if err != nil {
			w.abort(ctx, shardID, seq)
			return 0, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}

	// The delete entry hides any previous version of the resource; the new
	// segments carry this write's seq, so they are not affected.
	deletions := make([]*metadata.Deletion, 0, len(indexes))
	for _, idx := range indexes {
		deletions = append(deletions, &metadata.Deletion{IndexID: idx.ID, KeyPrefix: res.ID})
	}

	if err := w.store.CommitWrite(ctx, shardID, seq, rows, deletions); err != nil {
		w.abort(ctx, shardID, seq)
		return 0, err
	}
	log.Info("resource indexed",
		zap.String("shardID", shardID),
		zap.String("resourceID", res.ID),
		zap.Int64("seq", seq),
		zap.Int("segments", len(rows)))
	return seq, nil
}

// DeleteResource hides the resource from every index of the shard.
func (w *Writer) DeleteResource(ctx context.Context, shardID, resourceID string) (typeutil.Seq, error) {
	indexes, err := w.store.ListIndexes(ctx, shardID)
	if err != nil {
		return 0, err
	}
	seq, err := w.store.BeginWrite(ctx, shardID)
	if err != nil {
		return 0, err
	}
	deletions := make([]*metadata.Deletion, 0, len(indexes))
	for _, idx := range indexes {
		deletions = append(deletions, &metadata.Deletion{IndexID: idx.ID, KeyPrefix: resourceID})
	}
	if err := w.store.CommitWrite(ctx, shardID, seq, nil, deletions); err != nil {
		w.abort(ctx, shardID, seq)
		return 0, err
	}
	return seq, nil
}

func (w *Writer) abort(ctx context.Context, shardID string, seq typeutil.Seq) {
	if err := w.store.AbortWrite(ctx, shardID, seq); err != nil {
		log.Warn("aborting write", zap.String("shardID", shardID), zap.Int64("seq", seq), zap.Error(err))
	}
}

// buildFor builds, seals and uploads the segment of one index. A resource
// that contributes nothing to an index produces no segment.
func (w *Writer) buildFor(ctx context.Context, idx *metadata.Index, res *Resource, dir string) (*metadata.Segment, error) {
	var records int64
	var blob []byte
	var err error

	switch idx.Kind {
	case metadata.KindVector:
		var config *vector.Config
		config, err = vector.ParseConfig(idx.Config)
		if err != nil {
			return nil, err
		}
		var elems []vector.Elem
		labels := securityLabels(res.Labels, res.AccessGroups)
		for _, f := range res.Fields {
			for _, p := range f.Paragraphs {
				if len(p.Vector) == 0 {
					continue
				}
				elems = append(elems, vector.Elem{
					Key:    paragraphKey(res.ID, f.Name, p),
					Vector: p.Vector,
					Labels: append(append([]string(nil), labels...), p.Labels...),
				})
			}
		}
		if len(elems) == 0 {
			return nil, nil
		}
		var result *vector.BuildResult
		result, err = vector.Build(dir, config, elems)
		if err != nil {
			return nil, err
		}
		records, blob = result.Records, result.Metadata

	case metadata.KindText:
		var docs []invindex.Record
		for _, f := range res.Fields {
			if f.Text == "" {
				continue
			}
			docs = append(docs, invindex.Record{
				Key:      res.ID + "/" + f.Name,
				Text:     f.Text,
				Labels:   res.Labels,
				Groups:   res.AccessGroups,
				Facets:   normalizeFacets(res.Facets),
				Created:  res.Created,
				Modified: res.Modified,
			})
		}
		records, blob, err = buildInverted(dir, docs)

	case metadata.KindParagraph:
		var docs []invindex.Record
		for _, f := range res.Fields {
			for _, p := range f.Paragraphs {
				if p.Text == "" {
					continue
				}
				docs = append(docs, invindex.Record{
					Key:      paragraphKey(res.ID, f.Name, p),
					Text:     p.Text,
					Labels:   append(append([]string(nil), res.Labels...), p.Labels...),
					Groups:   res.AccessGroups,
					Created:  res.Created,
					Modified: res.Modified,
				})
			}
		}
		records, blob, err = buildInverted(dir, docs)

	case metadata.KindRelation:
		var docs []invindex.Record
		for i, rel := range res.Relations {
			docs = append(docs, invindex.Record{
				Key:      relationKey(res.ID, i),
				Groups:   res.AccessGroups,
				Source:   rel.Source,
				Relation: rel.Relation,
				Target:   rel.Target,
			})
		}
		records, blob, err = buildInverted(dir, docs)

	default:
		return nil, errdef.InvalidArgument("unknown index kind %q", idx.Kind)
	}
	if err != nil {
		return nil, err
	}
	if records == 0 {
		return nil, nil
	}

	row := &metadata.Segment{
		ID:       uuid.New(),
		IndexID:  idx.ID,
		Kind:     idx.Kind,
		Records:  records,
		Metadata: blob,
	}
	size, err := objectstore.PackAndUpload(ctx, w.storage, dir, row.StorageKey())
	if err != nil {
		return nil, err
	}
	row.SizeBytes = size
	return row, nil
}

func buildInverted(dir string, docs []invindex.Record) (int64, []byte, error) {
	if len(docs) == 0 {
		return 0, nil, nil
	}
	meta, err := invindex.Build(dir, docs)
	if err != nil {
		return 0, nil, err
	}
	blob, err := meta.Marshal()
	if err != nil {
		return 0, nil, err
	}
	return meta.Records, blob, nil
}

// normalizeFacets keeps a single facet value per document on write; only
// segments written by older versions may carry more.
func normalizeFacets(facets []string) []string {
	if len(facets) <= 1 {
		return facets
	}
	return facets[len(facets)-1:]
}

func paragraphKey(resourceID, field string, p Paragraph) string {
	return fmt.Sprintf("%s/%s/%d-%d", resourceID, field, p.Start, p.End)
}

func relationKey(resourceID string, ordinal int) string {
	return fmt.Sprintf("%s/rel/%d", resourceID, ordinal)
}
