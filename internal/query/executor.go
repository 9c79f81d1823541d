// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/index"
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/metrics"
	"github.com/stratosearch/stratos/internal/searcher"
)

// preFilterLimit caps how many keys the pre-filter stage collects; a Some
// outcome carries at most this many keys.
const preFilterLimit = 10_000

// Executor resolves a request against one replica's synced views.
type Executor struct {
	searcher *searcher.SyncedSearcher
}

// NewExecutor wires an executor over the replica's searcher.
func NewExecutor(s *searcher.SyncedSearcher) *Executor {
	return &Executor{searcher: s}
}

func (e *Executor) indexOf(shardID string, kind metadata.IndexKind, name string) *metadata.Index {
	for _, idx := range e.searcher.Indexes(shardID) {
		if idx.Kind != kind {
			continue
		}
		if name == "" || idx.Name == name {
			return idx
		}
	}
	return nil
}

// Search plans and executes one request. Search is best effort: a failing
// index contributes an IndexError while the others still return results;
// only cancellation aborts the whole call.
func (e *Executor) Search(ctx context.Context, req *SearchRequest) (*Response, error) {
	if req.Shard == "" {
		return nil, errdef.InvalidArgument("request has no shard")
	}
	plan := BuildPlan(req)
	resp := &Response{}

	if plan.PreFilter != nil {
		pre, err := e.runPreFilter(ctx, req, plan.PreFilter)
		if err != nil {
			if errdef.Kind(err) == errdef.KindCanceled {
				return nil, err
			}
			resp.Errors = append(resp.Errors, IndexError{Index: "prefilter", Err: err})
			pre = &PreFilterResponse{Valid: ValidFieldsNone}
		}
		plan.Apply(pre)
	}

	fail := func(name string, err error) error {
		if errdef.Kind(err) == errdef.KindCanceled {
			return err
		}
		log.Warn("index search failed", zap.String("index", name), zap.Error(err))
		resp.Errors = append(resp.Errors, IndexError{Index: name, Err: err})
		return nil
	}

	if plan.Text != nil {
		if err := e.searchText(ctx, req, plan, resp); err != nil {
			if err = fail("text", err); err != nil {
				return nil, err
			}
		}
	}
	if plan.Paragraph != nil {
		if err := e.searchParagraph(ctx, req, plan, resp); err != nil {
			if err = fail("paragraph", err); err != nil {
				return nil, err
			}
		}
	}
	if plan.Vector != nil {
		if err := e.searchVector(ctx, req, plan, resp); err != nil {
			if err = fail("vector", err); err != nil {
				return nil, err
			}
		}
	}
	if plan.Graph != nil {
		if err := e.searchGraph(ctx, req, plan, resp); err != nil {
			if err = fail("relation", err); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func (e *Executor) view(ctx context.Context, shardID string, kind metadata.IndexKind, name string) (*index.View, error) {
	idx := e.indexOf(shardID, kind, name)
	if idx == nil {
		return nil, errdef.NotFound("shard %s has no %s index", shardID, kind)
	}
	return e.searcher.GetView(ctx, idx.ID)
}

func (e *Executor) runPreFilter(ctx context.Context, req *SearchRequest, pre *PreFilterRequest) (*PreFilterResponse, error) {
	view, err := e.view(ctx, req.Shard, metadata.KindText, "")
	if err != nil {
		return nil, err
	}
	defer view.Release()

	postings, err := view.SearchInverted(pre.Query(req.Security, preFilterLimit))
	if err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		return &PreFilterResponse{Valid: ValidFieldsNone}, nil
	}
	keys, err := view.IterKeys()
	if err != nil {
		return nil, err
	}
	if len(postings) >= len(keys) {
		return &PreFilterResponse{Valid: ValidFieldsAll}, nil
	}
	out := &PreFilterResponse{Valid: ValidFieldsSome}
	for _, p := range postings {
		out.Keys = append(out.Keys, p.Key)
	}
	return out, nil
}

func (e *Executor) searchText(ctx context.Context, req *SearchRequest, plan *QueryPlan, resp *Response) error {
	start := time.Now()
	view, err := e.view(ctx, req.Shard, metadata.KindText, "")
	if err != nil {
		return err
	}
	defer view.Release()
	postings, err := view.SearchInverted(plan.Text)
	if err != nil {
		return err
	}
	for _, p := range postings {
		resp.Documents = append(resp.Documents, TextResult{Key: p.Key, Score: p.Score, Facet: p.Facet})
	}
	metrics.SearchDuration.WithLabelValues("text").Observe(time.Since(start).Seconds())
	return nil
}

func (e *Executor) searchParagraph(ctx context.Context, req *SearchRequest, plan *QueryPlan, resp *Response) error {
	start := time.Now()
	view, err := e.view(ctx, req.Shard, metadata.KindParagraph, "")
	if err != nil {
		return err
	}
	defer view.Release()
	postings, err := view.SearchInverted(plan.Paragraph)
	if err != nil {
		return err
	}
	for _, p := range postings {
		resp.Paragraphs = append(resp.Paragraphs, TextResult{Key: p.Key, Score: p.Score, Facet: p.Facet})
	}
	metrics.SearchDuration.WithLabelValues("paragraph").Observe(time.Since(start).Seconds())
	return nil
}

func (e *Executor) searchVector(ctx context.Context, req *SearchRequest, plan *QueryPlan, resp *Response) error {
	start := time.Now()
	view, err := e.view(ctx, req.Shard, metadata.KindVector, req.Vectorset)
	if err != nil {
		return err
	}
	defer view.Release()
	matches, err := view.SearchVector(plan.Vector)
	if err != nil {
		return err
	}
	size := int(req.ResultPerPage)
	if size <= 0 {
		size = 20
	}
	from := int(req.PageNumber) * size
	if from < len(matches) {
		for _, m := range matches[from:] {
			resp.Vectors = append(resp.Vectors, VectorResult{Key: m.Key, Score: m.Score})
			if len(resp.Vectors) == size {
				break
			}
		}
	}
	metrics.SearchDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
	return nil
}

func (e *Executor) searchGraph(ctx context.Context, req *SearchRequest, plan *QueryPlan, resp *Response) error {
	start := time.Now()
	view, err := e.view(ctx, req.Shard, metadata.KindRelation, "")
	if err != nil {
		return err
	}
	defer view.Release()
	edges, err := view.GraphSearch(plan.Graph)
	if err != nil {
		return err
	}
	resp.Graph = edges
	metrics.SearchDuration.WithLabelValues("relation").Observe(time.Since(start).Seconds())
	return nil
}

// Suggest completes against the paragraph index.
func (e *Executor) Suggest(ctx context.Context, req *SuggestRequest) ([]TextResult, error) {
	view, err := e.view(ctx, req.Shard, metadata.KindParagraph, "")
	if err != nil {
		return nil, err
	}
	defer view.Release()

	q := &invindex.SearchQuery{Text: req.Body, Size: 10}
	if req.Security != nil {
		q.Security = &invindex.SecurityFilter{AccessGroups: req.Security.AccessGroups}
	}
	postings, err := view.SearchInverted(q)
	if err != nil {
		return nil, err
	}
	out := make([]TextResult, 0, len(postings))
	for _, p := range postings {
		out = append(out, TextResult{Key: p.Key, Score: p.Score, Facet: p.Facet})
	}
	return out, nil
}
