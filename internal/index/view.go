// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package index assembles queryable views out of the open segments of one
// index plus the deletions that postdate them. Views are immutable and
// cheap: a new segment set yields a new view while the old one lives until
// its last borrow ends.
package index

import (
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/util/typeutil"
	"github.com/stratosearch/stratos/internal/vector"
)

// VectorSegmentRef pairs an open vector reader with its committed sequence.
type VectorSegmentRef struct {
	Reader *vector.Reader
	Seq    typeutil.Seq
}

// InvSegmentRef pairs an open inverted segment with its committed sequence.
type InvSegmentRef struct {
	Segment *invindex.Segment
	Seq     typeutil.Seq
}

// View is the conjunction of per-segment readers plus the deletion rows that
// filter them by sequence.
type View struct {
	Kind      metadata.IndexKind
	vectors   []VectorSegmentRef
	inverted  []InvSegmentRef
	deletions []metadata.Deletion

	// release returns the borrowed cache handles; nil for unmanaged views.
	release func()
}

// NewVectorView builds a view over vector segments.
func NewVectorView(segments []VectorSegmentRef, deletions []metadata.Deletion, release func()) *View {
	return &View{Kind: metadata.KindVector, vectors: segments, deletions: deletions, release: release}
}

// NewInvertedView builds a view over text, paragraph or relation segments.
func NewInvertedView(kind metadata.IndexKind, segments []InvSegmentRef, deletions []metadata.Deletion, release func()) *View {
	return &View{Kind: kind, inverted: segments, deletions: deletions, release: release}
}

// Release returns every borrowed segment handle. The view must not be used
// afterwards.
func (v *View) Release() {
	if v.release != nil {
		v.release()
		v.release = nil
	}
}

// deleteViewFor exposes the view's deletion rows as a per-request delete log
// for one vector segment.
func (v *View) deleteViewFor() vector.ListDeleteView {
	entries := make(vector.ListDeleteView, 0, len(v.deletions))
	for _, d := range v.deletions {
		entries = append(entries, vector.DeletionEntry{KeyPrefix: d.KeyPrefix, Seq: d.Seq})
	}
	return entries
}

func (v *View) excludedFor(seq typeutil.Seq) func(string) bool {
	if len(v.deletions) == 0 {
		return nil
	}
	deletions := v.deletions
	return func(key string) bool {
		for _, d := range deletions {
			if d.Seq > seq && strings.HasPrefix(key, d.KeyPrefix) {
				return true
			}
		}
		return false
	}
}

// SearchVector fans the request out to every segment and merges the top k.
// Per-segment failures abort the whole call; the caller isolates them.
func (v *View) SearchVector(req *vector.SearchRequest) ([]vector.Match, error) {
	if v.Kind != metadata.KindVector {
		return nil, errdef.InvalidArgument("vector search on a %s index", v.Kind)
	}
	deleteView := v.deleteViewFor()

	type keyed struct {
		match vector.Match
		seq   typeutil.Seq
	}
	best := make(map[string]keyed)
	for _, ref := range v.vectors {
		segReq := *req
		segReq.Deletions = deleteView
		segReq.SegmentSeq = ref.Seq
		matches, err := ref.Reader.Search(&segReq)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			// The same key in several segments keeps the newest version.
			if prev, ok := best[m.Key]; ok && prev.seq >= ref.Seq {
				continue
			}
			best[m.Key] = keyed{match: m, seq: ref.Seq}
		}
	}

	out := make([]vector.Match, 0, len(best))
	for _, k := range best {
		out = append(out, k.match)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > req.K {
		out = out[:req.K]
	}
	return out, nil
}

// SearchInverted runs the query on every segment and merges postings by
// score, applying the view's pagination.
func (v *View) SearchInverted(q *invindex.SearchQuery) ([]invindex.Posting, error) {
	if v.Kind == metadata.KindVector {
		return nil, errdef.InvalidArgument("inverted search on a vector index")
	}

	type keyed struct {
		posting invindex.Posting
		seq     typeutil.Seq
	}
	best := make(map[string]keyed)
	for _, ref := range v.inverted {
		segQuery := *q
		segQuery.From = 0
		segQuery.Size = q.From + q.Size
		segQuery.Excluded = v.excludedFor(ref.Seq)
		postings, err := ref.Segment.Search(&segQuery)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			if prev, ok := best[p.Key]; ok && prev.seq >= ref.Seq {
				continue
			}
			best[p.Key] = keyed{posting: p, seq: ref.Seq}
		}
	}

	out := make([]invindex.Posting, 0, len(best))
	for _, k := range best {
		out = append(out, k.posting)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.From >= len(out) {
		return nil, nil
	}
	out = out[q.From:]
	if q.Size > 0 && len(out) > q.Size {
		out = out[:q.Size]
	}
	return out, nil
}

// GraphSearch expands a relation query over every segment.
func (v *View) GraphSearch(q *invindex.GraphQuery) ([]invindex.GraphEdge, error) {
	if v.Kind != metadata.KindRelation {
		return nil, errdef.InvalidArgument("graph search on a %s index", v.Kind)
	}
	var out []invindex.GraphEdge
	for _, ref := range v.inverted {
		segQuery := *q
		segQuery.Excluded = v.excludedFor(ref.Seq)
		edges, err := ref.Segment.GraphSearch(&segQuery)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// IterKeys unions the live keys of every segment in sorted order.
func (v *View) IterKeys() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	var errs error
	add := func(key string, seq typeutil.Seq) {
		for _, d := range v.deletions {
			if d.Seq > seq && strings.HasPrefix(key, d.KeyPrefix) {
				return
			}
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, ref := range v.vectors {
		for _, key := range ref.Reader.Keys() {
			add(key, ref.Seq)
		}
	}
	for _, ref := range v.inverted {
		keys, err := ref.Segment.IterKeys()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, key := range keys {
			add(key, ref.Seq)
		}
	}
	sort.Strings(out)
	return out, errs
}
