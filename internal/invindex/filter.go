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
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// FilterExpr is a request filter tree over labels, keywords and dates.
// Exactly one of the operator or leaf groups is set per node.
type FilterExpr struct {
	And []*FilterExpr
	Or  []*FilterExpr
	Not *FilterExpr

	Label   string
	Keyword string

	// DateField is fieldCreated or fieldModified for a date-range leaf.
	DateField string
	From      *time.Time
	To        *time.Time
}

func (f *FilterExpr) build() query.Query {
	switch {
	case len(f.And) > 0:
		parts := make([]query.Query, 0, len(f.And))
		for _, child := range f.And {
			parts = append(parts, child.build())
		}
		return bleve.NewConjunctionQuery(parts...)
	case len(f.Or) > 0:
		parts := make([]query.Query, 0, len(f.Or))
		for _, child := range f.Or {
			parts = append(parts, child.build())
		}
		return bleve.NewDisjunctionQuery(parts...)
	case f.Not != nil:
		boolean := bleve.NewBooleanQuery()
		boolean.AddMust(bleve.NewMatchAllQuery())
		boolean.AddMustNot(f.Not.build())
		return boolean
	case f.Label != "":
		tq := bleve.NewTermQuery(f.Label)
		tq.SetField(fieldLabels)
		return tq
	case f.Keyword != "":
		mq := bleve.NewMatchQuery(f.Keyword)
		mq.SetField(fieldText)
		return mq
	case f.DateField != "":
		from, to := time.Time{}, time.Time{}
		if f.From != nil {
			from = *f.From
		}
		if f.To != nil {
			to = *f.To
		}
		rq := bleve.NewDateRangeQuery(from, to)
		rq.SetField(f.DateField)
		return rq
	default:
		return bleve.NewMatchAllQuery()
	}
}

// DateFieldCreated and DateFieldModified name the date leaves of a filter.
const (
	DateFieldCreated  = fieldCreated
	DateFieldModified = fieldModified
)
