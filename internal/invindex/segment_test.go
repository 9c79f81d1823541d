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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildOpen(t *testing.T, records []Record) *Segment {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "segment")
	meta, err := Build(dir, records)
	require.NoError(t, err)
	require.Equal(t, int64(len(records)), meta.Records)

	seg, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })
	return seg
}

func postingKeys(postings []Posting) []string {
	out := make([]string, 0, len(postings))
	for _, p := range postings {
		out = append(out, p.Key)
	}
	return out
}

func TestSearchByText(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "doc1/title", Text: "the little prince"},
		{Key: "doc2/title", Text: "war and peace"},
	})

	postings, err := seg.Search(&SearchQuery{Text: "prince", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1/title"}, postingKeys(postings))
}

func TestSecuritySearch(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "doc1/title", Text: "quarterly report", Groups: []string{"engineering"}},
		{Key: "doc2/title", Text: "public report"},
	})

	search := func(groups []string) []string {
		postings, err := seg.Search(&SearchQuery{
			Text:     "report",
			Security: &SecurityFilter{AccessGroups: groups},
			Size:     10,
		})
		require.NoError(t, err)
		return postingKeys(postings)
	}

	// Empty access groups see only public records.
	assert.ElementsMatch(t, []string{"doc2/title"}, search(nil))
	assert.ElementsMatch(t, []string{"doc2/title"}, search([]string{"unknown"}))
	assert.ElementsMatch(t, []string{"doc1/title", "doc2/title"}, search([]string{"engineering"}))
	assert.ElementsMatch(t, []string{"doc1/title", "doc2/title"}, search([]string{"engineering", "unknown"}))
}

func TestLabelAndPrefixFilters(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "doc1/a", Text: "alpha body", Labels: []string{"/l/cool"}},
		{Key: "doc1/b", Text: "alpha body"},
		{Key: "doc2/a", Text: "alpha body", Labels: []string{"/l/cool"}},
	})

	postings, err := seg.Search(&SearchQuery{Labels: []string{"/l/cool"}, Size: 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1/a", "doc2/a"}, postingKeys(postings))

	postings, err = seg.Search(&SearchQuery{KeyPrefixes: []string{"doc1/"}, Size: 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1/a", "doc1/b"}, postingKeys(postings))

	postings, err = seg.Search(&SearchQuery{Labels: []string{"/l/cool"}, KeyPrefixes: []string{"doc1/"}, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1/a"}, postingKeys(postings))
}

func TestDateRangeSearch(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seg := buildOpen(t, []Record{
		{Key: "old/doc", Text: "report", Created: base.AddDate(0, -2, 0), Modified: base.AddDate(0, -2, 0)},
		{Key: "new/doc", Text: "report", Created: base, Modified: base},
	})

	from := base.AddDate(0, -1, 0)
	to := base.AddDate(0, 1, 0)
	postings, err := seg.Search(&SearchQuery{
		Text:  "report",
		Times: []TimeRange{{Field: DateFieldCreated, From: &from, To: &to}},
		Size:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new/doc"}, postingKeys(postings))
}

func TestFilterExpressionTree(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "a", Text: "body", Labels: []string{"/l/red"}},
		{Key: "b", Text: "body", Labels: []string{"/l/blue"}},
		{Key: "c", Text: "body", Labels: []string{"/l/red", "/l/blue"}},
	})

	postings, err := seg.Search(&SearchQuery{
		Expr: &FilterExpr{And: []*FilterExpr{
			{Label: "/l/red"},
			{Not: &FilterExpr{Label: "/l/blue"}},
		}},
		Size: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, postingKeys(postings))

	postings, err = seg.Search(&SearchQuery{
		Expr: &FilterExpr{Or: []*FilterExpr{
			{Label: "/l/red"},
			{Label: "/l/blue"},
		}},
		Size: 10,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, postingKeys(postings))
}

func TestFacetReadTakesLast(t *testing.T) {
	// Old segments may carry the historical two-value facet shape.
	seg := buildOpen(t, []Record{
		{Key: "legacy/doc", Text: "body", Facets: []string{"/t/old", "/t/new"}},
	})
	postings, err := seg.Search(&SearchQuery{Text: "body", Size: 10})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "/t/new", postings[0].Facet)
}

func TestIterKeysSorted(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "zeta", Text: "x"},
		{Key: "alpha", Text: "x"},
		{Key: "mid", Text: "x"},
	})
	keys, err := seg.IterKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
}

func TestExcludedFiltersDeletedKeys(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "doc1/f", Text: "report"},
		{Key: "doc2/f", Text: "report"},
	})
	postings, err := seg.Search(&SearchQuery{
		Text:     "report",
		Size:     10,
		Excluded: func(key string) bool { return strings.HasPrefix(key, "doc1") },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc2/f"}, postingKeys(postings))
}

func TestMergeAppliesDeletionsAndKeepsNewest(t *testing.T) {
	old := buildOpen(t, []Record{
		{Key: "doc1/f", Text: "old body"},
		{Key: "doc2/f", Text: "kept body"},
	})
	renewed := buildOpen(t, []Record{
		{Key: "doc1/f", Text: "new body"},
	})

	outDir := filepath.Join(t.TempDir(), "merged")
	meta, err := Merge(outDir, []MergeInput{
		{Segment: old, Seq: 1, Deletions: []Deletion{{KeyPrefix: "doc1", Seq: 2}}},
		{Segment: renewed, Seq: 3, Deletions: []Deletion{{KeyPrefix: "doc1", Seq: 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.Records)

	merged, err := Open(outDir)
	require.NoError(t, err)
	defer merged.Close()

	postings, err := merged.Search(&SearchQuery{Text: "new", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1/f"}, postingKeys(postings))

	postings, err = merged.Search(&SearchQuery{Text: "old", Size: 10})
	require.NoError(t, err)
	assert.Empty(t, postings)
}

func TestGraphSearch(t *testing.T) {
	seg := buildOpen(t, []Record{
		{Key: "r/rel/0", Source: "alice", Relation: "knows", Target: "bob"},
		{Key: "r/rel/1", Source: "bob", Relation: "knows", Target: "carol"},
		{Key: "r/rel/2", Source: "carol", Relation: "works_at", Target: "acme"},
	})

	edges, err := seg.GraphSearch(&GraphQuery{Entries: []string{"alice"}, Depth: 1})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "bob", edges[0].Target)

	edges, err = seg.GraphSearch(&GraphQuery{Entries: []string{"alice"}, Depth: 3})
	require.NoError(t, err)
	assert.Len(t, edges, 3)

	edges, err = seg.GraphSearch(&GraphQuery{
		Entries:   []string{"alice"},
		Depth:     3,
		Relations: []string{"knows"},
	})
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestListFilesForReplication(t *testing.T) {
	seg := buildOpen(t, []Record{{Key: "doc", Text: "body"}})
	all, err := seg.ListFiles(nil)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	known := map[string]uint64{all[0].Path: all[0].Sum}
	rest, err := seg.ListFiles(known)
	require.NoError(t, err)
	assert.Len(t, rest, len(all)-1)
}
