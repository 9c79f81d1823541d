// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shardIDs(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("shard-%02d", i))
	}
	return out
}

func TestEveryShardServedByExactlyOneNode(t *testing.T) {
	nodes := []string{"node-a:40102", "node-b:40102", "node-c:40102"}
	selectors := make([]*ShardSelector, 0, len(nodes))
	for _, self := range nodes {
		selectors = append(selectors, NewShardSelector(NewStaticNodes(self, nodes...), 1))
	}

	for _, shard := range shardIDs(10) {
		serving := 0
		for _, sel := range selectors {
			ok, err := sel.ShouldServe(shard)
			require.NoError(t, err)
			if ok {
				serving++
			}
		}
		assert.Equal(t, 1, serving, "shard %s", shard)
	}
}

func TestNodeRemovalRedistributes(t *testing.T) {
	nodes := []string{"node-a:40102", "node-b:40102", "node-c:40102"}
	listers := make([]*StaticNodes, 0, len(nodes))
	selectors := make([]*ShardSelector, 0, len(nodes))
	for _, self := range nodes {
		lister := NewStaticNodes(self, nodes...)
		listers = append(listers, lister)
		selectors = append(selectors, NewShardSelector(lister, 1))
	}

	before := make(map[string]string)
	for _, shard := range shardIDs(10) {
		replicas, err := selectors[0].NodesFor(shard)
		require.NoError(t, err)
		require.Len(t, replicas, 1)
		before[shard] = replicas[0]
	}

	// Drop node-c and resync every lister.
	survivors := nodes[:2]
	for _, lister := range listers {
		lister.SetNodes(survivors...)
	}

	for _, shard := range shardIDs(10) {
		serving := 0
		var owner string
		for i, sel := range selectors[:2] {
			ok, err := sel.ShouldServe(shard)
			require.NoError(t, err)
			if ok {
				serving++
				owner = survivors[i]
			}
		}
		assert.Equal(t, 1, serving, "shard %s", shard)
		// Shards that were not on the removed node stay put.
		if before[shard] != "node-c:40102" {
			assert.Equal(t, before[shard], owner, "shard %s moved needlessly", shard)
		}
	}
}

func TestReplicationFactor(t *testing.T) {
	nodes := []string{"n1", "n2", "n3", "n4"}
	sel := NewShardSelector(NewStaticNodes("n1", nodes...), 2)
	replicas, err := sel.NodesFor("some-shard")
	require.NoError(t, err)
	assert.Len(t, replicas, 2)
	assert.NotEqual(t, replicas[0], replicas[1])
}

func TestSelectionIsConsistentAcrossNodes(t *testing.T) {
	nodes := []string{"n1", "n2", "n3"}
	a := NewShardSelector(NewStaticNodes("n1", nodes...), 1)
	b := NewShardSelector(NewStaticNodes("n2", nodes...), 1)
	for _, shard := range shardIDs(20) {
		ra, err := a.NodesFor(shard)
		require.NoError(t, err)
		rb, err := b.NodesFor(shard)
		require.NoError(t, err)
		assert.Equal(t, ra, rb)
	}
}

func TestNoLiveNodes(t *testing.T) {
	sel := NewShardSelector(NewStaticNodes("self"), 1)
	_, err := sel.NodesFor("shard")
	assert.Error(t, err)
}
