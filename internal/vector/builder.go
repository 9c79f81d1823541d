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
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/segment"
)

// Elem is one record of a vector segment build.
type Elem struct {
	Key    string
	Vector []float32
	Labels []string
}

// BuildResult describes a sealed segment.
type BuildResult struct {
	Records  int64
	Metadata []byte
	Journal  *Journal
}

// Build creates a sealed vector segment at dir from elems. Elements are
// sorted by key so merges stay deterministic; duplicate keys keep the last
// occurrence. Any failure removes the half-written directory.
func Build(dir string, config *Config, elems []Elem) (*BuildResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	for i := range elems {
		if len(elems[i].Vector) != config.Dimension {
			return nil, errdef.InvalidArgument("vector of %q has dimension %d, index wants %d",
				elems[i].Key, len(elems[i].Vector), config.Dimension)
		}
	}

	sort.SliceStable(elems, func(i, j int) bool { return elems[i].Key < elems[j].Key })
	deduped := elems[:0]
	for i, e := range elems {
		if i+1 < len(elems) && elems[i+1].Key == e.Key {
			continue
		}
		deduped = append(deduped, e)
	}
	elems = deduped

	writer, err := segment.NewWriter(dir)
	if err != nil {
		return nil, err
	}
	result, err := writeSegment(writer, config, elems, nil)
	if err != nil {
		if aerr := writer.Abort(); aerr != nil {
			log.Warn("discarding failed segment build", zap.String("dir", dir), zap.Error(aerr))
		}
		return nil, err
	}
	return result, nil
}

// nodeLayout is the serialized node store plus the addresses assigned to
// each element, in element order.
type nodeLayout struct {
	nodes     []byte
	addrs     []nodeAddr
	keys      [][]byte
	vectors   [][]float32
	allLabels []trieWord
}

// layoutNodes serializes elems into a node store. Vectors are normalized
// here when the config asks for it.
func layoutNodes(config *Config, elems []Elem) *nodeLayout {
	l := &nodeLayout{
		addrs:   make([]nodeAddr, len(elems)),
		keys:    make([][]byte, len(elems)),
		vectors: make([][]float32, len(elems)),
	}
	for i, e := range elems {
		if config.Normalize {
			l.vectors[i] = normalize(e.Vector)
		} else {
			l.vectors[i] = e.Vector
		}
		labels := make([]trieWord, 0, len(e.Labels))
		for _, label := range e.Labels {
			labels = append(labels, trieWord{word: []byte(label)})
			l.allLabels = append(l.allLabels, trieWord{word: []byte(label)})
		}
		l.addrs[i] = uint64(len(l.nodes))
		l.keys[i] = []byte(e.Key)
		l.nodes = append(l.nodes, encodeNode(l.addrs[i], l.keys[i], l.vectors[i], serializeTrie(labels))...)
	}
	return l
}

// writeSegment persists every file and seals the directory. When graph is
// nil a fresh HNSW is built by inserting elements in key order.
func writeSegment(writer *segment.Writer, config *Config, elems []Elem, graph *ramHNSW) (*BuildResult, error) {
	dir := writer.Dir()
	layout := layoutNodes(config, elems)

	if err := writeFile(dir, nodesFile, layout.nodes); err != nil {
		return nil, err
	}

	// Quantized store, one record per node in the same order.
	if config.RaBitQ {
		quantized := make([]byte, 0, len(elems)*quantizedRecordLen(config.Dimension))
		for _, v := range layout.vectors {
			quantized = append(quantized, encodeQuantized(v)...)
		}
		if err := writeFile(dir, quantizedFile, quantized); err != nil {
			return nil, err
		}
	}

	if graph == nil {
		graph = buildGraph(config, layout.vectors, layout.addrs)
	}
	if err := writeFile(dir, hnswFile, serializeHNSW(graph)); err != nil {
		return nil, err
	}

	if err := writeFile(dir, labelsFile, serializeTrie(layout.allLabels)); err != nil {
		return nil, err
	}
	if err := writeFile(dir, deleteLogFile, serializeDeleteLog(nil)); err != nil {
		return nil, err
	}

	journal := newJournal(config.Dimension, layout.keys)
	blob, err := journal.marshal()
	if err != nil {
		return nil, err
	}
	if err := writeFile(dir, journalFile, blob); err != nil {
		return nil, err
	}

	if _, err := writer.Seal(); err != nil {
		return nil, err
	}
	return &BuildResult{Records: int64(len(elems)), Metadata: blob, Journal: journal}, nil
}

func buildGraph(config *Config, vectors [][]float32, addrs []nodeAddr) *ramHNSW {
	params := hnswParams{m: config.M, efConstruction: config.EfConstruction}
	byAddr := make(map[nodeAddr][]float32, len(addrs))
	for i, a := range addrs {
		byAddr[a] = vectors[i]
	}
	graph := newRAMHNSW()
	rng := rand.New(rand.NewSource(int64(len(addrs))*2654435761 + 1))
	for i, a := range addrs {
		v := vectors[i]
		insertNode(graph, params, a, func(y nodeAddr) float32 {
			return dot(v, byAddr[y])
		}, rng)
	}
	return graph
}

func writeFile(dir, name string, blob []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), blob, 0o644); err != nil {
		return errdef.IO(err, "writing %s", name)
	}
	return nil
}
