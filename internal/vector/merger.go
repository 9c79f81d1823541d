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
	"sort"

	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/segment"
	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// MergeInput is one source segment of a merge.
type MergeInput struct {
	Reader *Reader
	Seq    typeutil.Seq
	// Deletions hides keys deleted after the segment was created; the
	// merge materializes them, so the output's delete log is empty.
	Deletions DeleteView
}

// Merge combines inputs into a fresh segment at dir. Without deletions the
// node stores are concatenated in key order and the largest input's graph is
// reused with remapped ids; with deletions every survivor is re-inserted
// into a new graph.
func Merge(dir string, config *Config, inputs []MergeInput) (*BuildResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var survivors []survivor
	hasDeletions := false
	for i, in := range inputs {
		for _, addr := range in.Reader.addrs {
			key := in.Reader.key(addr)
			deleted := in.Reader.deleteLog.DeletedAfter(key, in.Seq) ||
				(in.Deletions != nil && in.Deletions.DeletedAfter(key, in.Seq))
			if deleted {
				hasDeletions = true
				continue
			}
			survivors = append(survivors, survivor{input: i, addr: addr, key: string(key), seq: in.Seq})
		}
	}

	// Key order, newest segment wins on duplicates.
	sort.SliceStable(survivors, func(a, b int) bool {
		if survivors[a].key != survivors[b].key {
			return survivors[a].key < survivors[b].key
		}
		return survivors[a].seq > survivors[b].seq
	})
	deduped := survivors[:0]
	for i, s := range survivors {
		if i > 0 && survivors[i-1].key == s.key {
			hasDeletions = true
			continue
		}
		deduped = append(deduped, s)
	}
	survivors = deduped

	elems := make([]Elem, len(survivors))
	for i, s := range survivors {
		reader := inputs[s.input].Reader
		labels := trieWords(nodeLabelTrie(reader.nodes[s.addr:]))
		elem := Elem{Key: s.key, Vector: reader.vector(s.addr)}
		for _, l := range labels {
			elem.Labels = append(elem.Labels, string(l.word))
		}
		elems[i] = elem
	}

	writer, err := segment.NewWriter(dir)
	if err != nil {
		return nil, err
	}

	var graph *ramHNSW
	if !hasDeletions && len(inputs) > 0 {
		graph = remapLargestGraph(config, inputs, survivorAddrs(survivors, elems, config))
	}
	result, err := writeSegment(writer, config, elems, graph)
	if err != nil {
		if aerr := writer.Abort(); aerr != nil {
			log.Warn("discarding failed merge output", zap.String("dir", dir), zap.Error(aerr))
		}
		return nil, err
	}
	log.Info("merged vector segments",
		zap.Int("inputs", len(inputs)),
		zap.Int64("records", result.Records),
		zap.Bool("rebuilt", hasDeletions))
	return result, nil
}

// survivor is one live node of a merge input.
type survivor struct {
	input int
	addr  nodeAddr
	key   string
	seq   typeutil.Seq
}

// addrPlan maps (input ordinal, old address) to the address in the output
// node store.
type addrPlan struct {
	byInput []map[nodeAddr]nodeAddr
	order   []nodeAddr
}

// survivorAddrs precomputes the output layout so the reused graph can be
// remapped before the files are written. The layout must match layoutNodes
// exactly, so node sizes are recomputed the same way.
func survivorAddrs(survivors []survivor, elems []Elem, config *Config) *addrPlan {
	plan := &addrPlan{}
	var offset uint64
	maxInput := 0
	for _, s := range survivors {
		if s.input > maxInput {
			maxInput = s.input
		}
	}
	plan.byInput = make([]map[nodeAddr]nodeAddr, maxInput+1)
	for i := range plan.byInput {
		plan.byInput[i] = make(map[nodeAddr]nodeAddr)
	}
	for i, s := range survivors {
		labels := make([]trieWord, 0, len(elems[i].Labels))
		for _, l := range elems[i].Labels {
			labels = append(labels, trieWord{word: []byte(l)})
		}
		vec := elems[i].Vector
		if config.Normalize {
			vec = normalize(vec)
		}
		blob := encodeNode(offset, []byte(s.key), vec, serializeTrie(labels))
		plan.byInput[s.input][s.addr] = offset
		plan.order = append(plan.order, offset)
		offset += uint64(len(blob))
	}
	return plan
}

// remapLargestGraph reuses the biggest input's graph under the new address
// space and inserts every other input's nodes into it.
func remapLargestGraph(config *Config, inputs []MergeInput, plan *addrPlan) *ramHNSW {
	largest := 0
	for i, in := range inputs {
		if in.Reader.NumNodes() > inputs[largest].Reader.NumNodes() {
			largest = i
		}
	}

	graph := inputs[largest].Reader.graph.toRAM(func(old nodeAddr) nodeAddr {
		return plan.byInput[largest][old]
	})

	// Vectors of the merged store, addressable for similarity scoring.
	byAddr := make(map[nodeAddr][]float32)
	for i, in := range inputs {
		for _, old := range in.Reader.addrs {
			if mapped, ok := plan.byInput[i][old]; ok {
				byAddr[mapped] = in.Reader.vector(old)
			}
		}
	}

	params := hnswParams{m: config.M, efConstruction: config.EfConstruction}
	rng := rand.New(rand.NewSource(int64(len(byAddr))*2654435761 + 7))
	for i, in := range inputs {
		if i == largest {
			continue
		}
		for _, old := range in.Reader.addrs {
			mapped, ok := plan.byInput[i][old]
			if !ok {
				continue
			}
			v := byAddr[mapped]
			insertNode(graph, params, mapped, func(y nodeAddr) float32 {
				return dot(v, byAddr[y])
			}, rng)
		}
	}
	return graph
}
