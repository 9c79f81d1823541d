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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratosearch/stratos/internal/invindex"
)

func TestBuildPlanEnablesOnlyRequestedIndexes(t *testing.T) {
	plan := BuildPlan(&SearchRequest{Shard: "s", Body: "hello", Document: true})
	assert.NotNil(t, plan.Text)
	assert.Nil(t, plan.Paragraph)
	assert.Nil(t, plan.Vector)
	assert.Nil(t, plan.Graph)

	plan = BuildPlan(&SearchRequest{Shard: "s", Vector: []float32{1, 0}})
	assert.Nil(t, plan.Text)
	assert.NotNil(t, plan.Vector)

	plan = BuildPlan(&SearchRequest{Shard: "s", Graph: &GraphRequest{Entries: []string{"a"}}})
	assert.NotNil(t, plan.Graph)
}

func TestBuildPlanSplitsPreFilter(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	req := &SearchRequest{
		Shard:    "s",
		Body:     "hello",
		Document: true,
		Filter: &invindex.FilterExpr{And: []*invindex.FilterExpr{
			{Label: "/l/cool"},
			{DateField: invindex.DateFieldCreated, From: &from, To: &to},
			{Keyword: "special"},
		}},
	}
	plan := BuildPlan(req)
	require.NotNil(t, plan.PreFilter)
	assert.Equal(t, []string{"/l/cool"}, plan.PreFilter.Labels)
	require.Len(t, plan.PreFilter.Times, 1)
	require.NotNil(t, plan.PreFilter.Expr)
	assert.Equal(t, "special", plan.PreFilter.Expr.Keyword)
}

func TestApplyNoneEmptiesEverySubRequest(t *testing.T) {
	plan := BuildPlan(&SearchRequest{
		Shard:    "s",
		Body:     "hello",
		Document: true,
		Vector:   []float32{1, 0},
		Filter:   &invindex.FilterExpr{Label: "/l/cool"},
	})
	plan.Apply(&PreFilterResponse{Valid: ValidFieldsNone})
	assert.Nil(t, plan.Text)
	assert.Nil(t, plan.Vector)
}

func TestApplyAllDropsTimestampFilters(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	plan := BuildPlan(&SearchRequest{
		Shard:    "s",
		Body:     "hello",
		Document: true,
		Filter:   &invindex.FilterExpr{DateField: invindex.DateFieldCreated, From: &from, To: &to},
	})
	require.NotNil(t, plan.Text)
	require.NotEmpty(t, plan.Text.Times)

	plan.Apply(&PreFilterResponse{Valid: ValidFieldsAll})
	assert.Empty(t, plan.Text.Times)
}

func TestApplySomeRewritesKeySets(t *testing.T) {
	plan := BuildPlan(&SearchRequest{
		Shard:    "s",
		Body:     "hello",
		Document: true,
		Vector:   []float32{1, 0},
		Filter:   &invindex.FilterExpr{Label: "/l/cool"},
		Security: &Security{AccessGroups: []string{"engineering"}},
	})
	plan.Apply(&PreFilterResponse{Valid: ValidFieldsSome, Keys: []string{"doc1/f", "doc7/f"}})

	require.NotNil(t, plan.Text)
	assert.Equal(t, []string{"doc1/f", "doc7/f"}, plan.Text.Keys)
	assert.Empty(t, plan.Text.Labels, "key set subsumes label filters")

	require.NotNil(t, plan.Vector)
	assert.Equal(t, []string{"doc1/f", "doc7/f"}, plan.Vector.Filter.KeyPrefixes)
	assert.NotNil(t, plan.Vector.Filter.Labels, "security clause survives the rewrite")
}

func TestPaginationDefaults(t *testing.T) {
	plan := BuildPlan(&SearchRequest{Shard: "s", Body: "x", Document: true, ResultPerPage: 10, PageNumber: 2})
	require.NotNil(t, plan.Text)
	assert.Equal(t, 20, plan.Text.From)
	assert.Equal(t, 10, plan.Text.Size)
}
