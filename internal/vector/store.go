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
	"os"
	"path/filepath"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/segment"
)

const (
	nodesFile     = "nodes"
	quantizedFile = "quantized"
	hnswFile      = "hnsw"
	labelsFile    = "labels"
	deleteLogFile = "delete_log"
	journalFile   = "journal"
)

// Reader is an open, immutable vector segment. It is cheap to share; all
// state is read-only after Open.
type Reader struct {
	dir    string
	config *Config

	nodes     []byte
	quantized []byte
	graph     *diskHNSW
	labels    []byte
	deleteLog *trieDeleteView
	journal   *Journal

	// addrs lists node addresses in key order; ordinal maps an address back
	// to its position, which is also its record index in the quantized file.
	addrs   []nodeAddr
	ordinal map[nodeAddr]int
}

// Open maps a sealed segment directory. The checksum manifest is verified
// first so corrupt artifacts surface as Corrupted instead of garbage results.
func Open(dir string, config *Config) (*Reader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := segment.Verify(dir); err != nil {
		return nil, err
	}

	read := func(name string) ([]byte, error) {
		blob, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errdef.IO(err, "reading %s of segment %s", name, dir)
		}
		return blob, nil
	}

	nodes, err := read(nodesFile)
	if err != nil {
		return nil, err
	}
	hnswBlob, err := read(hnswFile)
	if err != nil {
		return nil, err
	}
	labels, err := read(labelsFile)
	if err != nil {
		return nil, err
	}
	deleteBlob, err := read(deleteLogFile)
	if err != nil {
		return nil, err
	}
	journalBlob, err := read(journalFile)
	if err != nil {
		return nil, err
	}
	journal, err := parseJournal(journalBlob)
	if err != nil {
		return nil, err
	}
	if journal.Dimension != config.Dimension {
		return nil, errdef.InvalidArgument("segment dimension %d does not match index config %d",
			journal.Dimension, config.Dimension)
	}

	graph, err := openDiskHNSW(hnswBlob)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		dir:       dir,
		config:    config,
		nodes:     nodes,
		graph:     graph,
		labels:    labels,
		deleteLog: newTrieDeleteView(deleteBlob),
		journal:   journal,
	}
	if config.RaBitQ {
		if r.quantized, err = read(quantizedFile); err != nil {
			return nil, err
		}
		want := int(journal.NodeCount) * quantizedRecordLen(config.Dimension)
		if len(r.quantized) != want {
			return nil, errdef.Corrupted(nil, "quantized file size %d, want %d", len(r.quantized), want)
		}
	}

	// Walk the node store once to index blob addresses.
	r.addrs = make([]nodeAddr, 0, journal.NodeCount)
	r.ordinal = make(map[nodeAddr]int, journal.NodeCount)
	for at := uint64(0); at < uint64(len(nodes)); {
		if at+nodeHeaderLen > uint64(len(nodes)) {
			return nil, errdef.Corrupted(nil, "truncated node store in %s", dir)
		}
		r.ordinal[at] = len(r.addrs)
		r.addrs = append(r.addrs, at)
		length := nodeLen(nodes[at:])
		if length == 0 || at+length > uint64(len(nodes)) {
			return nil, errdef.Corrupted(nil, "bad node length at %d in %s", at, dir)
		}
		at += length
	}
	if int64(len(r.addrs)) != journal.NodeCount {
		return nil, errdef.Corrupted(nil, "node store holds %d nodes, journal says %d",
			len(r.addrs), journal.NodeCount)
	}
	return r, nil
}

// Journal returns the segment's journal record.
func (r *Reader) Journal() *Journal {
	return r.journal
}

// NumNodes returns the number of stored nodes, live or not.
func (r *Reader) NumNodes() int {
	return len(r.addrs)
}

// Dir returns the segment directory.
func (r *Reader) Dir() string {
	return r.dir
}

// Keys returns every stored key in sorted order.
func (r *Reader) Keys() []string {
	out := make([]string, len(r.addrs))
	for i, addr := range r.addrs {
		out[i] = string(nodeKey(r.nodes[addr:]))
	}
	return out
}

// ListFiles exposes the sealed files for replication.
func (r *Reader) ListFiles(excluding map[string]uint64) ([]segment.FileInfo, error) {
	return segment.ListFiles(r.dir, excluding)
}

func (r *Reader) key(addr nodeAddr) []byte {
	return nodeKey(r.nodes[addr:])
}

func (r *Reader) vector(addr nodeAddr) []float32 {
	return nodeVector(r.nodes[addr:], r.config.Dimension)
}

func (r *Reader) quantizedRecord(addr nodeAddr) encodedVector {
	i := r.ordinal[addr]
	recLen := quantizedRecordLen(r.config.Dimension)
	return encodedVector(r.quantized[i*recLen : (i+1)*recLen])
}

// nodeLabels adapts one node to the formula evaluation surface.
type nodeLabels struct {
	blob []byte
}

func (n nodeLabels) hasLabel(label []byte) bool {
	return trieHasWord(n.blob, label)
}

func (n nodeLabels) hasLabelPrefix(prefix []byte) bool {
	return trieHasPrefix(n.blob, prefix)
}

func (r *Reader) labelsOf(addr nodeAddr) labelSet {
	return nodeLabels{blob: nodeLabelTrie(r.nodes[addr:])}
}

// HasLabel reports whether any node in the segment carries the label.
func (r *Reader) HasLabel(label []byte) bool {
	return trieHasWord(r.labels, label)
}
