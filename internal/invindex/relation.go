// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package invindex

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/stratosearch/stratos/internal/errdef"
)

// GraphEdge is one stored relation.
type GraphEdge struct {
	Source   string
	Relation string
	Target   string
}

// GraphQuery asks for the neighbourhood of a set of entry points.
type GraphQuery struct {
	// Entry nodes to expand from.
	Entries []string
	// Depth limits the breadth-first expansion; 1 returns direct edges.
	Depth int
	// Relations restricts edge types when non-empty.
	Relations []string
	// Excluded drops deleted edge keys.
	Excluded func(key string) bool
}

// GraphSearch expands the query breadth-first over the stored edges.
func (s *Segment) GraphSearch(q *GraphQuery) ([]GraphEdge, error) {
	if q.Depth <= 0 {
		q.Depth = 1
	}
	visited := make(map[string]struct{}, len(q.Entries))
	frontier := append([]string(nil), q.Entries...)
	var out []GraphEdge
	seenEdge := make(map[string]struct{})

	for depth := 0; depth < q.Depth && len(frontier) > 0; depth++ {
		var sources []query.Query
		for _, node := range frontier {
			if _, ok := visited[node]; ok {
				continue
			}
			visited[node] = struct{}{}
			tq := bleve.NewTermQuery(node)
			tq.SetField(fieldSource)
			sources = append(sources, tq)
		}
		if len(sources) == 0 {
			break
		}
		conj := []query.Query{bleve.NewDisjunctionQuery(sources...)}
		if len(q.Relations) > 0 {
			var rels []query.Query
			for _, r := range q.Relations {
				tq := bleve.NewTermQuery(r)
				tq.SetField(fieldRelation)
				rels = append(rels, tq)
			}
			conj = append(conj, bleve.NewDisjunctionQuery(rels...))
		}

		req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conj...), iterPageSize, 0, false)
		req.Fields = []string{fieldSource, fieldRelation, fieldTarget}
		res, err := s.index.Search(req)
		if err != nil {
			return nil, errdef.IO(err, "graph search in %s", s.dir)
		}

		frontier = frontier[:0]
		for _, hit := range res.Hits {
			if q.Excluded != nil && q.Excluded(hit.ID) {
				continue
			}
			if _, ok := seenEdge[hit.ID]; ok {
				continue
			}
			seenEdge[hit.ID] = struct{}{}
			edge := GraphEdge{}
			edge.Source, _ = hit.Fields[fieldSource].(string)
			edge.Relation, _ = hit.Fields[fieldRelation].(string)
			edge.Target, _ = hit.Fields[fieldTarget].(string)
			out = append(out, edge)
			if _, ok := visited[edge.Target]; !ok {
				frontier = append(frontier, edge.Target)
			}
		}
	}
	return out, nil
}
