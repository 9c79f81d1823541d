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
	"container/heap"
	"sort"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// SearchRequest queries one open segment.
type SearchRequest struct {
	Vector []float32
	K      int
	// Filter restricts results by labels and key prefixes; filtered nodes
	// are still traversed.
	Filter *Formula
	// Deletions is the request-scoped view of keys deleted after this
	// segment was created, on top of the segment's own delete log.
	Deletions DeleteView
	// SegmentSeq is the sequence the segment was committed at.
	SegmentSeq typeutil.Seq
	MinScore   float32
	// WithDuplicates permits several results sharing identical vectors.
	WithDuplicates bool
}

// Match is one scored result.
type Match struct {
	Key   string
	Score float32
}

// Search runs the segment's HNSW search: when RaBitQ is enabled the graph is
// walked with estimated scores and the candidates reranked against raw
// vectors; filters and the delete log replace invalid results by the nearest
// valid reachable node.
func (r *Reader) Search(req *SearchRequest) ([]Match, error) {
	if len(req.Vector) != r.config.Dimension {
		return nil, errdef.InvalidArgument("query dimension %d, index dimension %d",
			len(req.Vector), r.config.Dimension)
	}
	if req.K <= 0 {
		return nil, errdef.InvalidArgument("k must be positive, got %d", req.K)
	}
	if len(r.addrs) == 0 {
		return nil, nil
	}

	query := req.Vector
	if r.config.Normalize {
		query = normalize(query)
	}
	exact := func(addr nodeAddr) float32 {
		return dot(query, r.vector(addr))
	}

	var candidates []scored
	if r.config.RaBitQ {
		qv := newQueryVector(query)
		estimator := func(addr nodeAddr) (float32, float32) {
			estimate, errBound := qv.similarity(r.quantizedRecord(addr))
			return estimate, estimate + errBound
		}
		pool := searchGraph(r.graph, estimator, rerankingCap(req.K))
		candidates = rerankTop(pool, req.K, exact)
	} else {
		candidates = searchGraph(r.graph, exactScorer(exact), req.K)
	}

	results := r.replaceInvalid(candidates, req, exact)

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		if res.score < req.MinScore {
			continue
		}
		matches = append(matches, Match{Key: string(r.key(res.addr)), Score: res.score})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// rerankTop walks candidates in descending upper bound and computes exact
// similarities while any remaining upper bound can still beat the k-th best
// exact score.
func rerankTop(candidates []scored, k int, exact func(nodeAddr) float32) []scored {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].upper > candidates[j].upper })

	best := &minHeap{}
	var bestK float32
	for _, c := range candidates {
		if best.Len() >= k && bestK >= c.upper {
			break
		}
		real := exact(c.addr)
		if best.Len() < k || real > bestK {
			heap.Push(best, scored{addr: c.addr, score: real, upper: real})
			if best.Len() > k {
				heap.Pop(best)
			}
			bestK = (*best)[0].score
		}
	}
	out := make([]scored, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(scored)
	}
	return out
}

func (r *Reader) validResult(addr nodeAddr, req *SearchRequest) bool {
	key := r.key(addr)
	if r.deleteLog.DeletedAfter(key, req.SegmentSeq) {
		return false
	}
	if req.Deletions != nil && req.Deletions.DeletedAfter(key, req.SegmentSeq) {
		return false
	}
	if req.Filter != nil && !req.Filter.matches(key, r.labelsOf(addr)) {
		return false
	}
	return true
}

// replaceInvalid keeps recall stable under dense deletions: an invalid
// candidate is traversed anyway and replaced by the closest valid node
// reachable from it on layer 0 without increasing graph distance.
func (r *Reader) replaceInvalid(candidates []scored, req *SearchRequest, exact func(nodeAddr) float32) []scored {
	taken := make(map[nodeAddr]struct{}, len(candidates))
	dupes := newRepCounter(!req.WithDuplicates)
	for _, c := range candidates {
		taken[c.addr] = struct{}{}
		dupes.add(r.vectorBytesOf(c.addr))
	}

	var out []scored
	for _, c := range candidates {
		delete(taken, c.addr)
		dupes.sub(r.vectorBytesOf(c.addr))
		replacement, ok := r.closestValid(c.addr, req, exact, taken, dupes)
		if !ok {
			continue
		}
		out = append(out, replacement)
		taken[replacement.addr] = struct{}{}
		dupes.add(r.vectorBytesOf(replacement.addr))
	}
	return out
}

// closestValid walks out-edges best-first from start until a valid node
// appears.
func (r *Reader) closestValid(start nodeAddr, req *SearchRequest, exact func(nodeAddr) float32,
	taken map[nodeAddr]struct{}, dupes *repCounter) (scored, bool) {
	visited := map[nodeAddr]struct{}{start: {}}
	candidates := &maxHeap{}
	heap.Push(candidates, scored{addr: start, score: exact(start)})
	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(scored)
		_, isTaken := taken[current.addr]
		valid := !isTaken &&
			dupes.get(r.vectorBytesOf(current.addr)) == 0 &&
			r.validResult(current.addr, req)
		if valid {
			return current, true
		}
		for _, e := range r.graph.outEdges(0, current.addr) {
			if _, ok := visited[e.to]; ok {
				continue
			}
			visited[e.to] = struct{}{}
			heap.Push(candidates, scored{addr: e.to, score: exact(e.to)})
		}
	}
	return scored{}, false
}

func (r *Reader) vectorBytesOf(addr nodeAddr) string {
	return string(nodeVectorBytes(r.nodes[addr:]))
}

// repCounter tracks how many selected results share a vector, to suppress
// duplicates unless the request asks for them.
type repCounter struct {
	enabled bool
	counts  map[string]int
}

func newRepCounter(enabled bool) *repCounter {
	return &repCounter{enabled: enabled, counts: make(map[string]int)}
}

func (c *repCounter) add(v string) { c.counts[v]++ }

func (c *repCounter) sub(v string) { c.counts[v]-- }

func (c *repCounter) get(v string) int {
	if !c.enabled {
		return 0
	}
	return c.counts[v]
}
