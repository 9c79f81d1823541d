// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package query turns one search request into a pre-filter stage plus
// per-index sub-requests, executes them over a replica's views and gathers
// partial results.
package query

import (
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/vector"
)

// Security carries the request's access groups.
type Security struct {
	AccessGroups []string
}

// GraphRequest asks for a neighbourhood expansion on the relation index.
type GraphRequest struct {
	Entries   []string
	Depth     int
	Relations []string
}

// SearchRequest is the engine-facing search surface. Body drives the text
// and paragraph indexes, Vector the vector index and Graph the relation
// index; each sub-request runs only if asked for.
type SearchRequest struct {
	Shard string

	Body      string
	Document  bool
	Paragraph bool

	Vector []float32
	// Vectorset selects a named vector index of the shard; empty picks the
	// shard's default.
	Vectorset string

	Graph *GraphRequest

	Filter        *invindex.FilterExpr
	Security      *Security
	MinScore      float32
	ResultPerPage int32
	PageNumber    int32
	// WithDuplicates permits results sharing identical vectors.
	WithDuplicates bool
}

// SuggestRequest asks for key completions on the paragraph index.
type SuggestRequest struct {
	Shard    string
	Body     string
	Security *Security
}

// TextResult is one document or paragraph hit.
type TextResult struct {
	Key   string
	Score float32
	Facet string
}

// VectorResult is one scored vector match.
type VectorResult struct {
	Key   string
	Score float32
}

// IndexError captures a per-index failure; the rest of the response is
// still served.
type IndexError struct {
	Index string
	Err   error
}

// Response aggregates per-index results. A failed sub-request leaves its
// block empty and adds an IndexError instead of failing the whole search.
type Response struct {
	Documents  []TextResult
	Paragraphs []TextResult
	Vectors    []VectorResult
	Graph      []invindex.GraphEdge

	Errors []IndexError
}

// vectorFormula translates the filter tree for the vector index, which
// evaluates labels per node instead of via postings.
func vectorFormula(f *invindex.FilterExpr) vector.LabelExpr {
	if f == nil {
		return nil
	}
	switch {
	case len(f.And) > 0:
		and := make(vector.And, 0, len(f.And))
		for _, child := range f.And {
			if e := vectorFormula(child); e != nil {
				and = append(and, e)
			}
		}
		return and
	case len(f.Or) > 0:
		or := make(vector.Or, 0, len(f.Or))
		for _, child := range f.Or {
			if e := vectorFormula(child); e != nil {
				or = append(or, e)
			}
		}
		return or
	case f.Not != nil:
		if e := vectorFormula(f.Not); e != nil {
			return vector.Not{Expr: e}
		}
		return nil
	case f.Label != "":
		return vector.Literal(f.Label)
	default:
		// Keyword and date leaves are resolved by the pre-filter; they do
		// not constrain vector nodes directly.
		return nil
	}
}
