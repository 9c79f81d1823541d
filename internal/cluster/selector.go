// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package cluster routes shards inside the read-replica fleet: a hash ring
// over the live node list decides which replicas serve which shard.
package cluster

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/stratosearch/stratos/internal/errdef"
)

// NodeLister provides the current live node list and this node's identity.
// Implementations rebuild the view on membership changes.
type NodeLister interface {
	ListNodes() []string
	ThisNode() string
}

// ShardSelector maps shards onto replicas consistently across the fleet:
// every node computes the same ring, so no coordination is needed to agree
// on ownership.
type ShardSelector struct {
	lister      NodeLister
	replication int
}

// NewShardSelector builds a selector with the given replication factor.
func NewShardSelector(lister NodeLister, replication int) *ShardSelector {
	if replication < 1 {
		replication = 1
	}
	return &ShardSelector{lister: lister, replication: replication}
}

type ringEntry struct {
	hash uint64
	node string
}

func buildRing(nodes []string) []ringEntry {
	ring := make([]ringEntry, 0, len(nodes))
	for _, n := range nodes {
		ring = append(ring, ringEntry{hash: xxhash.Sum64String(n), node: n})
	}
	sort.Slice(ring, func(i, j int) bool {
		if ring[i].hash != ring[j].hash {
			return ring[i].hash < ring[j].hash
		}
		return ring[i].node < ring[j].node
	})
	return ring
}

// NodesFor returns the replicas serving shardID: the R distinct successors
// of the shard's position on the ring.
func (s *ShardSelector) NodesFor(shardID string) ([]string, error) {
	nodes := s.lister.ListNodes()
	if len(nodes) == 0 {
		return nil, errdef.NotFound("no live nodes for shard %s", shardID)
	}
	ring := buildRing(nodes)
	target := xxhash.Sum64String(shardID)
	start := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= target })

	replicas := make([]string, 0, s.replication)
	seen := make(map[string]struct{}, s.replication)
	for i := 0; i < len(ring) && len(replicas) < s.replication; i++ {
		entry := ring[(start+i)%len(ring)]
		if _, ok := seen[entry.node]; ok {
			continue
		}
		seen[entry.node] = struct{}{}
		replicas = append(replicas, entry.node)
	}
	return replicas, nil
}

// ShouldServe reports whether this node is among the shard's replicas.
func (s *ShardSelector) ShouldServe(shardID string) (bool, error) {
	replicas, err := s.NodesFor(shardID)
	if err != nil {
		return false, err
	}
	self := s.lister.ThisNode()
	for _, n := range replicas {
		if n == self {
			return true, nil
		}
	}
	return false, nil
}
