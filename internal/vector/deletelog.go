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
	"strings"

	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// DeleteView answers whether a key was deleted after a segment's sequence.
// Views come either from a segment's own delete_log file or from deletion
// rows fetched out of the metadata store for one request.
type DeleteView interface {
	// DeletedAfter reports a deletion with a prefix of key and seq > after.
	DeletedAfter(key []byte, after typeutil.Seq) bool
	// MaxSeq is the newest deletion in the view, zero when empty.
	MaxSeq() typeutil.Seq
}

// trieDeleteView reads a serialized delete_log trie.
type trieDeleteView struct {
	blob   []byte
	newest typeutil.Seq
}

func newTrieDeleteView(blob []byte) *trieDeleteView {
	v := &trieDeleteView{blob: blob}
	for _, w := range trieWords(blob) {
		if seq := typeutil.Seq(w.value); seq > v.newest {
			v.newest = seq
		}
	}
	return v
}

func (v *trieDeleteView) DeletedAfter(key []byte, after typeutil.Seq) bool {
	seq, ok := trieMaxPrefixValue(v.blob, key)
	return ok && typeutil.Seq(seq) > after
}

func (v *trieDeleteView) MaxSeq() typeutil.Seq {
	return v.newest
}

// DeletionEntry is one key-prefix deletion stamped with its sequence.
type DeletionEntry struct {
	KeyPrefix string
	Seq       typeutil.Seq
}

// ListDeleteView serves a request-scoped list of deletions.
type ListDeleteView []DeletionEntry

func (v ListDeleteView) DeletedAfter(key []byte, after typeutil.Seq) bool {
	for _, d := range v {
		if d.Seq > after && strings.HasPrefix(string(key), d.KeyPrefix) {
			return true
		}
	}
	return false
}

func (v ListDeleteView) MaxSeq() typeutil.Seq {
	var newest typeutil.Seq
	for _, d := range v {
		if d.Seq > newest {
			newest = d.Seq
		}
	}
	return newest
}

// serializeDeleteLog persists entries as a prefix trie keyed by prefix with
// the deletion seq as value. Overlapping prefixes keep the newest seq.
func serializeDeleteLog(entries []DeletionEntry) []byte {
	words := make([]trieWord, 0, len(entries))
	for _, e := range entries {
		words = append(words, trieWord{word: []byte(e.KeyPrefix), value: uint64(e.Seq)})
	}
	return serializeTrie(words)
}
