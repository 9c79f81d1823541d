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
	"math"
	"math/rand"

	"github.com/stratosearch/stratos/internal/util/typeutil"
)

type nodeAddr = typeutil.NodeAddr

type edge struct {
	to   nodeAddr
	dist float32
}

type entryPoint struct {
	node  nodeAddr
	layer int
}

// hnswGraph is the read surface shared by the in-memory and on-disk graphs.
type hnswGraph interface {
	entry() (entryPoint, bool)
	outEdges(layer int, n nodeAddr) []edge
}

// ramLayer holds mutable adjacency during construction.
type ramLayer struct {
	out map[nodeAddr][]edge
}

func newRAMLayer() *ramLayer {
	return &ramLayer{out: make(map[nodeAddr][]edge)}
}

func (l *ramLayer) addNode(x nodeAddr) {
	if _, ok := l.out[x]; !ok {
		l.out[x] = nil
	}
}

func (l *ramLayer) addEdge(from nodeAddr, e edge) {
	l.out[from] = append(l.out[from], e)
}

func (l *ramLayer) takeOutEdges(x nodeAddr) []edge {
	edges := l.out[x]
	l.out[x] = nil
	return edges
}

// ramHNSW is the graph under construction. Layer 0 contains every node;
// higher layers are geometric samples.
type ramHNSW struct {
	layers []*ramLayer
	ep     *entryPoint
}

func newRAMHNSW() *ramHNSW {
	return &ramHNSW{}
}

func (h *ramHNSW) entry() (entryPoint, bool) {
	if h.ep == nil {
		return entryPoint{}, false
	}
	return *h.ep, true
}

func (h *ramHNSW) outEdges(layer int, n nodeAddr) []edge {
	if layer >= len(h.layers) {
		return nil
	}
	return h.layers[layer].out[n]
}

func (h *ramHNSW) growTo(x nodeAddr, level int) {
	for len(h.layers) <= level {
		h.layers = append(h.layers, newRAMLayer())
	}
	for i := 0; i <= level; i++ {
		h.layers[i].addNode(x)
	}
}

// updateEntryPoint keeps the entry point on the highest non-empty layer.
func (h *ramHNSW) updateEntryPoint(x nodeAddr, level int) {
	if h.ep == nil || level > h.ep.layer {
		h.ep = &entryPoint{node: x, layer: level}
	}
}

// scored pairs a node with its similarity to the query or inserted node.
type scored struct {
	addr  nodeAddr
	score float32
	// upper is score plus the quantization error bound; equal to score for
	// exact scorers.
	upper float32
}

// maxHeap pops the highest score first.
type maxHeap []scored

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap pops the lowest score first, used to keep the best k.
type minHeap []scored

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scorer computes the (estimate, upper bound) similarity of a stored node
// against the search target.
type scorer func(nodeAddr) (score, upper float32)

func exactScorer(fn func(nodeAddr) float32) scorer {
	return func(n nodeAddr) (float32, float32) {
		s := fn(n)
		return s, s
	}
}

// layerSearch is a bounded best-first search: candidates are explored in
// score order while the working set of the ef best seen is maintained.
// Results come back sorted by score descending.
func layerSearch(g hnswGraph, layer int, score scorer, ef int, entryPoints []nodeAddr) []scored {
	visited := make(map[nodeAddr]struct{}, ef*4)
	candidates := &maxHeap{}
	best := &minHeap{}
	for _, ep := range entryPoints {
		if _, ok := visited[ep]; ok {
			continue
		}
		visited[ep] = struct{}{}
		s, u := score(ep)
		heap.Push(candidates, scored{addr: ep, score: s, upper: u})
		heap.Push(best, scored{addr: ep, score: s, upper: u})
	}
	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(scored)
		worst := (*best)[0].score
		if current.score < worst && best.Len() >= ef {
			break
		}
		for _, e := range g.outEdges(layer, current.addr) {
			if _, ok := visited[e.to]; ok {
				continue
			}
			visited[e.to] = struct{}{}
			s, u := score(e.to)
			if best.Len() < ef || s > (*best)[0].score {
				heap.Push(candidates, scored{addr: e.to, score: s, upper: u})
				heap.Push(best, scored{addr: e.to, score: s, upper: u})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}
	out := make([]scored, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(scored)
	}
	return out
}

// descend walks from the entry point down to targetLayer with greedy width-1
// searches and returns the entry points for the next stage.
func descend(g hnswGraph, score scorer, from entryPoint, targetLayer int) []nodeAddr {
	eps := []nodeAddr{from.node}
	for layer := from.layer; layer > targetLayer; layer-- {
		res := layerSearch(g, layer, score, 1, eps)
		eps = eps[:0]
		for _, r := range res {
			eps = append(eps, r.addr)
		}
	}
	return eps
}

// searchGraph runs the full descent and a layer-0 search of width ef.
func searchGraph(g hnswGraph, score scorer, ef int) []scored {
	ep, ok := g.entry()
	if !ok {
		return nil
	}
	eps := descend(g, score, ep, 0)
	return layerSearch(g, 0, score, ef, eps)
}

// hnswParams bundle the construction knobs.
type hnswParams struct {
	m              int
	efConstruction int
}

func (p hnswParams) levelFactor() float64 {
	return 1.0 / math.Log(float64(p.m))
}

func (p hnswParams) randomLevel(rng *rand.Rand) int {
	sample := rng.Float64()
	for sample == 0 {
		sample = rng.Float64()
	}
	return int(math.Round(-math.Log(sample) * p.levelFactor()))
}

// selectNeighboursHeuristic keeps the k best candidates, deduplicating
// addresses and preferring higher similarity.
func selectNeighboursHeuristic(k int, candidates []edge) []edge {
	sortEdgesByDistDesc(candidates)
	seen := make(map[nodeAddr]struct{}, len(candidates))
	out := candidates[:0]
	for _, e := range candidates {
		if _, ok := seen[e.to]; ok {
			continue
		}
		seen[e.to] = struct{}{}
		out = append(out, e)
		if len(out) == k {
			break
		}
	}
	return out
}

func sortEdgesByDistDesc(edges []edge) {
	// Insertion sort; candidate lists are short (<= 2M+ef).
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0 && edges[j].dist > edges[j-1].dist; j-- {
			edges[j], edges[j-1] = edges[j-1], edges[j]
		}
	}
}

// layerInsert links x into one layer and repairs any endpoint whose
// out-degree grew past 2*m.
func layerInsert(g *ramHNSW, layerIdx int, score scorer, params hnswParams, x nodeAddr, entryPoints []nodeAddr) []nodeAddr {
	layer := g.layers[layerIdx]
	neighbours := layerSearch(g, layerIdx, score, params.efConstruction, entryPoints)
	needsRepair := make(map[nodeAddr]struct{})
	result := make([]nodeAddr, 0, len(neighbours))
	layer.addNode(x)
	for _, n := range neighbours {
		result = append(result, n.addr)
		layer.addEdge(x, edge{to: n.addr, dist: n.score})
		layer.addEdge(n.addr, edge{to: x, dist: n.score})
		if len(layer.out[n.addr]) > 2*params.m {
			needsRepair[n.addr] = struct{}{}
		}
	}
	if len(layer.out[x]) > params.m {
		layer.out[x] = selectNeighboursHeuristic(params.m, layer.takeOutEdges(x))
	}
	for crnt := range needsRepair {
		layer.out[crnt] = selectNeighboursHeuristic(params.m, layer.takeOutEdges(crnt))
	}
	return result
}

// insertNode adds x to the graph. similarity scores x against stored nodes.
func insertNode(g *ramHNSW, params hnswParams, x nodeAddr, similarity func(nodeAddr) float32, rng *rand.Rand) {
	score := exactScorer(similarity)
	ep, ok := g.entry()
	if !ok {
		level := params.randomLevel(rng)
		g.growTo(x, level)
		g.updateEntryPoint(x, level)
		return
	}
	level := params.randomLevel(rng)
	g.growTo(x, level)
	top := level
	if ep.layer < top {
		top = ep.layer
	}
	eps := descend(g, score, ep, top)
	for layer := top; layer >= 0; layer-- {
		eps = layerInsert(g, layer, score, params, x, eps)
	}
	g.updateEntryPoint(x, level)
}
