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
	"encoding/binary"
	"math"

	"golang.org/x/exp/slices"

	"github.com/stratosearch/stratos/internal/errdef"
)

// On-disk graph layout, little endian:
//
//	adjacency blocks: for each node, for each layer it joins (0..level),
//	  [count u32][(node_id u64, dist f32) x count]
//	per-layer offset tables, innermost to outermost:
//	  [entries u64][(node_id u64, block_offset u64) x entries]
//	trailer:
//	  [tables_start u64][layer_count u64][entry_layer u64][entry_node u64]
//
// An empty graph serializes to just the trailer with layer_count 0.

const diskHNSWTrailerLen = 32

// serializeHNSW flattens a built graph.
func serializeHNSW(h *ramHNSW) []byte {
	var buf []byte
	type tableEntry struct {
		node   nodeAddr
		offset uint64
	}
	tables := make([][]tableEntry, len(h.layers))

	// Blocks are grouped per node in address order, one per layer the node
	// joins starting at layer 0; every layer table stays in address order.
	var nodes []nodeAddr
	if len(h.layers) > 0 {
		for n := range h.layers[0].out {
			nodes = append(nodes, n)
		}
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		for layerIdx, layer := range h.layers {
			edges, ok := layer.out[n]
			if !ok {
				continue
			}
			tables[layerIdx] = append(tables[layerIdx], tableEntry{node: n, offset: uint64(len(buf))})
			var scratch [4]byte
			binary.LittleEndian.PutUint32(scratch[:], uint32(len(edges)))
			buf = append(buf, scratch[:]...)
			for _, e := range edges {
				var entry [12]byte
				binary.LittleEndian.PutUint64(entry[0:], e.to)
				binary.LittleEndian.PutUint32(entry[8:], math.Float32bits(e.dist))
				buf = append(buf, entry[:]...)
			}
		}
	}

	tablesStart := uint64(len(buf))
	var scratch [8]byte
	for _, table := range tables {
		binary.LittleEndian.PutUint64(scratch[:], uint64(len(table)))
		buf = append(buf, scratch[:]...)
		for _, entry := range table {
			var row [16]byte
			binary.LittleEndian.PutUint64(row[0:], entry.node)
			binary.LittleEndian.PutUint64(row[8:], entry.offset)
			buf = append(buf, row[:]...)
		}
	}

	var trailer [diskHNSWTrailerLen]byte
	binary.LittleEndian.PutUint64(trailer[0:], tablesStart)
	binary.LittleEndian.PutUint64(trailer[8:], uint64(len(h.layers)))
	if h.ep != nil {
		binary.LittleEndian.PutUint64(trailer[16:], uint64(h.ep.layer))
		binary.LittleEndian.PutUint64(trailer[24:], h.ep.node)
	}
	return append(buf, trailer[:]...)
}

// diskHNSW reads the serialized graph without copying adjacency data.
type diskHNSW struct {
	data   []byte
	layers []map[nodeAddr]uint64
	ep     *entryPoint
}

func openDiskHNSW(data []byte) (*diskHNSW, error) {
	if len(data) < diskHNSWTrailerLen {
		return nil, errdef.Corrupted(nil, "hnsw file too short (%d bytes)", len(data))
	}
	trailer := data[len(data)-diskHNSWTrailerLen:]
	tablesStart := binary.LittleEndian.Uint64(trailer[0:])
	layerCount := binary.LittleEndian.Uint64(trailer[8:])
	if tablesStart > uint64(len(data)) {
		return nil, errdef.Corrupted(nil, "hnsw offset table out of bounds")
	}

	g := &diskHNSW{data: data}
	at := tablesStart
	for l := uint64(0); l < layerCount; l++ {
		if at+8 > uint64(len(data)) {
			return nil, errdef.Corrupted(nil, "hnsw layer table truncated")
		}
		entries := binary.LittleEndian.Uint64(data[at:])
		at += 8
		layer := make(map[nodeAddr]uint64, entries)
		for i := uint64(0); i < entries; i++ {
			if at+16 > uint64(len(data)) {
				return nil, errdef.Corrupted(nil, "hnsw layer table truncated")
			}
			node := binary.LittleEndian.Uint64(data[at:])
			offset := binary.LittleEndian.Uint64(data[at+8:])
			layer[node] = offset
			at += 16
		}
		g.layers = append(g.layers, layer)
	}
	if layerCount > 0 {
		g.ep = &entryPoint{
			layer: int(binary.LittleEndian.Uint64(trailer[16:])),
			node:  binary.LittleEndian.Uint64(trailer[24:]),
		}
	}
	return g, nil
}

var _ hnswGraph = (*diskHNSW)(nil)

func (g *diskHNSW) entry() (entryPoint, bool) {
	if g.ep == nil {
		return entryPoint{}, false
	}
	return *g.ep, true
}

func (g *diskHNSW) outEdges(layer int, n nodeAddr) []edge {
	if layer >= len(g.layers) {
		return nil
	}
	offset, ok := g.layers[layer][n]
	if !ok {
		return nil
	}
	count := binary.LittleEndian.Uint32(g.data[offset:])
	edges := make([]edge, count)
	at := offset + 4
	for i := range edges {
		edges[i] = edge{
			to:   binary.LittleEndian.Uint64(g.data[at:]),
			dist: math.Float32frombits(binary.LittleEndian.Uint32(g.data[at+8:])),
		}
		at += 12
	}
	return edges
}

// toRAM rebuilds a mutable graph from the disk form, remapping every address
// through remap. Used by the merge fast path.
func (g *diskHNSW) toRAM(remap func(nodeAddr) nodeAddr) *ramHNSW {
	h := newRAMHNSW()
	for layerIdx, table := range g.layers {
		layer := newRAMLayer()
		for node := range table {
			mapped := remap(node)
			layer.addNode(mapped)
			for _, e := range g.outEdges(layerIdx, node) {
				layer.addEdge(mapped, edge{to: remap(e.to), dist: e.dist})
			}
		}
		h.layers = append(h.layers, layer)
	}
	if g.ep != nil {
		h.ep = &entryPoint{node: remap(g.ep.node), layer: g.ep.layer}
	}
	return h
}
