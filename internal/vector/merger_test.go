// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFastPath(t *testing.T) {
	config := testConfig(8, false)
	left := buildOpen(t, config, []Elem{
		axisElem("a", 8, 1),
		axisElem("c", 8, 3),
	})
	right := buildOpen(t, config, []Elem{
		axisElem("b", 8, 2),
		axisElem("d", 8, 4),
	})

	out := filepath.Join(t.TempDir(), "merged")
	result, err := Merge(out, config, []MergeInput{
		{Reader: left, Seq: 1},
		{Reader: right, Seq: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Records)

	merged, err := Open(out, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, merged.Keys())

	// The merged graph still answers searches over every input's nodes.
	for axis, key := range map[int]string{1: "a", 2: "b", 3: "c", 4: "d"} {
		q := make([]float32, 8)
		q[axis] = 1
		matches, err := merged.Search(&SearchRequest{Vector: q, K: 1})
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, key, matches[0].Key)
	}
}

func TestMergeAppliesDeletions(t *testing.T) {
	config := testConfig(8, false)
	left := buildOpen(t, config, []Elem{
		axisElem("doc1/f", 8, 1),
		axisElem("doc2/f", 8, 2),
	})
	right := buildOpen(t, config, []Elem{
		axisElem("doc3/f", 8, 3),
	})

	out := filepath.Join(t.TempDir(), "merged")
	result, err := Merge(out, config, []MergeInput{
		{Reader: left, Seq: 1, Deletions: ListDeleteView{{KeyPrefix: "doc1", Seq: 4}}},
		{Reader: right, Seq: 2, Deletions: ListDeleteView{{KeyPrefix: "doc1", Seq: 4}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Records)

	merged, err := Open(out, config)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc2/f", "doc3/f"}, merged.Keys())
	// Deletions were materialized; the output delete log is empty.
	assert.Zero(t, merged.deleteLog.MaxSeq())
}

func TestMergeKeepsLiveKeysEqual(t *testing.T) {
	config := testConfig(8, false)
	left := buildOpen(t, config, []Elem{
		axisElem("a", 8, 1),
		axisElem("b", 8, 2),
	})
	right := buildOpen(t, config, []Elem{
		axisElem("c", 8, 3),
	})
	deletions := ListDeleteView{{KeyPrefix: "b", Seq: 3}}

	liveBefore := map[string]struct{}{}
	for _, in := range []MergeInput{{Reader: left, Seq: 1}, {Reader: right, Seq: 2}} {
		for _, key := range in.Reader.Keys() {
			if !deletions.DeletedAfter([]byte(key), in.Seq) {
				liveBefore[key] = struct{}{}
			}
		}
	}

	out := filepath.Join(t.TempDir(), "merged")
	_, err := Merge(out, config, []MergeInput{
		{Reader: left, Seq: 1, Deletions: deletions},
		{Reader: right, Seq: 2, Deletions: deletions},
	})
	require.NoError(t, err)

	merged, err := Open(out, config)
	require.NoError(t, err)
	liveAfter := map[string]struct{}{}
	for _, key := range merged.Keys() {
		liveAfter[key] = struct{}{}
	}
	assert.Equal(t, liveBefore, liveAfter)
}

func TestMergeDeleteThenReinsert(t *testing.T) {
	config := testConfig(8, false)
	v1 := axisElem("doc1/f", 8, 1)
	old := buildOpen(t, config, []Elem{v1})

	// The key was deleted at seq 2 and re-indexed at seq 3 pointing
	// somewhere else.
	v2 := axisElem("doc1/f", 8, 5)
	renewed := buildOpen(t, config, []Elem{v2})

	deletions := ListDeleteView{{KeyPrefix: "doc1", Seq: 2}}
	out := filepath.Join(t.TempDir(), "merged")
	result, err := Merge(out, config, []MergeInput{
		{Reader: old, Seq: 1, Deletions: deletions},
		{Reader: renewed, Seq: 3, Deletions: deletions},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Records)

	merged, err := Open(out, config)
	require.NoError(t, err)
	q := make([]float32, 8)
	q[5] = 1
	matches, err := merged.Search(&SearchRequest{Vector: q, K: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc1/f", matches[0].Key)
	assert.GreaterOrEqual(t, matches[0].Score, float32(0.99))
}

func TestDiskHNSWRoundTrip(t *testing.T) {
	config := testConfig(8, false)
	elems := []Elem{
		axisElem("a", 8, 1),
		axisElem("b", 8, 2),
		axisElem("c", 8, 3),
		axisElem("d", 8, 4),
	}
	layout := layoutNodes(config, elems)
	graph := buildGraph(config, layout.vectors, layout.addrs)

	reopened, err := openDiskHNSW(serializeHNSW(graph))
	require.NoError(t, err)

	wantEP, ok := graph.entry()
	require.True(t, ok)
	gotEP, ok := reopened.entry()
	require.True(t, ok)
	assert.Equal(t, wantEP, gotEP)

	for layer := range graph.layers {
		for node := range graph.layers[layer].out {
			assert.ElementsMatch(t, graph.outEdges(layer, node), reopened.outEdges(layer, node),
				"layer %d node %d", layer, node)
		}
	}
}

func TestOpenCorruptedHNSW(t *testing.T) {
	_, err := openDiskHNSW([]byte{1, 2, 3})
	assert.Error(t, err)
}
