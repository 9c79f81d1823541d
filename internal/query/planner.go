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
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/vector"
)

// ValidFields classifies a pre-filter outcome so the planner can skip work:
// None short-circuits every sub-request, All leaves them untouched, Some
// rewrites them against the surviving key set.
type ValidFields int

const (
	ValidFieldsAll ValidFields = iota
	ValidFieldsNone
	ValidFieldsSome
)

// PreFilterRequest is the structured stage run before any index scoring.
type PreFilterRequest struct {
	Times  []invindex.TimeRange
	Labels []string
	Expr   *invindex.FilterExpr
}

// PreFilterResponse is the outcome applied to the rest of the plan.
type PreFilterResponse struct {
	Valid ValidFields
	Keys  []string
}

// QueryPlan is the decomposition of one request: an optional pre-filter and
// one sub-request per index that was asked for.
type QueryPlan struct {
	PreFilter *PreFilterRequest

	Text      *invindex.SearchQuery
	Paragraph *invindex.SearchQuery
	Vector    *vector.SearchRequest
	Graph     *invindex.GraphQuery
}

// splitFilter separates the pre-filterable leaves (dates, labels) from the
// rest of the tree. Only a top-level conjunction is split; any other tree
// is returned whole as rest.
func splitFilter(f *invindex.FilterExpr) (times []invindex.TimeRange, labels []string, rest *invindex.FilterExpr) {
	if f == nil {
		return nil, nil, nil
	}
	if len(f.And) == 0 {
		if f.DateField != "" {
			return []invindex.TimeRange{{Field: f.DateField, From: f.From, To: f.To}}, nil, nil
		}
		if f.Label != "" {
			return nil, []string{f.Label}, nil
		}
		return nil, nil, f
	}
	var kept []*invindex.FilterExpr
	for _, child := range f.And {
		switch {
		case child.DateField != "":
			times = append(times, invindex.TimeRange{Field: child.DateField, From: child.From, To: child.To})
		case child.Label != "":
			labels = append(labels, child.Label)
		default:
			kept = append(kept, child)
		}
	}
	if len(kept) == 1 {
		rest = kept[0]
	} else if len(kept) > 1 {
		rest = &invindex.FilterExpr{And: kept}
	}
	return times, labels, rest
}

// BuildPlan translates a request into its pre-filter and sub-requests.
func BuildPlan(req *SearchRequest) *QueryPlan {
	plan := &QueryPlan{}

	times, labels, rest := splitFilter(req.Filter)
	if len(times) > 0 || len(labels) > 0 {
		plan.PreFilter = &PreFilterRequest{Times: times, Labels: labels, Expr: rest}
	}

	var security *invindex.SecurityFilter
	if req.Security != nil {
		security = &invindex.SecurityFilter{AccessGroups: req.Security.AccessGroups}
	}

	size := int(req.ResultPerPage)
	if size <= 0 {
		size = 20
	}
	from := int(req.PageNumber) * size

	if req.Document {
		plan.Text = &invindex.SearchQuery{
			Text:     req.Body,
			Labels:   labels,
			Times:    times,
			Expr:     rest,
			Security: security,
			From:     from,
			Size:     size,
		}
	}
	if req.Paragraph {
		plan.Paragraph = &invindex.SearchQuery{
			Text:     req.Body,
			Labels:   labels,
			Times:    times,
			Expr:     rest,
			Security: security,
			From:     from,
			Size:     size,
		}
	}
	if len(req.Vector) > 0 {
		formula := &vector.Formula{}
		var clauses vector.And
		if labelExpr := vectorFormula(req.Filter); labelExpr != nil {
			clauses = append(clauses, labelExpr)
		}
		if req.Security != nil {
			clauses = append(clauses, vector.SecurityFormula(req.Security.AccessGroups))
		}
		if len(clauses) > 0 {
			formula.Labels = clauses
		}
		plan.Vector = &vector.SearchRequest{
			Vector:         req.Vector,
			K:              from + size,
			Filter:         formula,
			MinScore:       req.MinScore,
			WithDuplicates: req.WithDuplicates,
		}
	}
	if req.Graph != nil {
		plan.Graph = &invindex.GraphQuery{
			Entries:   req.Graph.Entries,
			Depth:     req.Graph.Depth,
			Relations: req.Graph.Relations,
		}
	}
	return plan
}

// Apply rewrites the sub-requests with a pre-filter outcome.
func (p *QueryPlan) Apply(res *PreFilterResponse) {
	if res == nil {
		return
	}
	switch res.Valid {
	case ValidFieldsNone:
		// No field can match; every sub-request returns empty without
		// touching its index.
		p.Text = nil
		p.Paragraph = nil
		p.Vector = nil
		p.Graph = nil

	case ValidFieldsAll:
		// Everything matched, so the filters were no-ops; drop the
		// timestamp filters the pre-filter already applied.
		for _, q := range []*invindex.SearchQuery{p.Text, p.Paragraph} {
			if q != nil {
				q.Times = nil
			}
		}

	case ValidFieldsSome:
		for _, q := range []*invindex.SearchQuery{p.Text, p.Paragraph} {
			if q == nil {
				continue
			}
			q.Keys = res.Keys
			// Key membership subsumes the label and time filters.
			q.Labels = nil
			q.Times = nil
			q.Expr = nil
		}
		if p.Vector != nil {
			if p.Vector.Filter == nil {
				p.Vector.Filter = &vector.Formula{}
			}
			p.Vector.Filter.KeyPrefixes = res.Keys
			// Labels already filtered by the pre-filter stage; keep only
			// the security clause, which keys cannot subsume.
			p.Vector.Filter.Labels = securityOnly(p.Vector.Filter.Labels)
		}
	}
}

// securityOnly strips non-security clauses from the vector formula.
func securityOnly(expr vector.LabelExpr) vector.LabelExpr {
	and, ok := expr.(vector.And)
	if !ok {
		return nil
	}
	var kept vector.And
	for _, clause := range and {
		if _, isOr := clause.(vector.Or); isOr {
			kept = append(kept, clause)
			continue
		}
		if _, isNot := clause.(vector.Not); isNot {
			kept = append(kept, clause)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// Query is the engine query of the pre-filter stage.
func (p *PreFilterRequest) Query(security *Security, limit int) *invindex.SearchQuery {
	q := &invindex.SearchQuery{
		Labels: p.Labels,
		Times:  p.Times,
		Expr:   p.Expr,
		Size:   limit,
	}
	if security != nil {
		q.Security = &invindex.SecurityFilter{AccessGroups: security.AccessGroups}
	}
	return q
}
