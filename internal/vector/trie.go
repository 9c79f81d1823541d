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
	"sort"
)

// Serialized trie layout, all little endian. A node is:
//
//	value    u64   (terminal marker high bit, payload in low 63 bits)
//	children u16
//	children entries: [byte u8][offset u32] sorted by byte
//
// Offsets are absolute within the trie blob. Node 0 is the root. Membership
// and prefix lookups walk one child per input byte, so a lookup costs
// O(len(word)).

const trieTerminal = uint64(1) << 63

type trieNode struct {
	terminal bool
	value    uint64
	children map[byte]*trieNode
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

func (n *trieNode) insert(word []byte, value uint64) {
	if len(word) == 0 {
		n.terminal = true
		if value > n.value {
			// Keep the highest value on duplicate prefixes; for delete
			// logs that is the newest deletion.
			n.value = value
		}
		return
	}
	child, ok := n.children[word[0]]
	if !ok {
		child = newTrieNode()
		n.children[word[0]] = child
	}
	child.insert(word[1:], value)
}

// serializedSize computes the byte size of the subtree rooted at n.
func (n *trieNode) serializedSize() int {
	size := 8 + 2 + 5*len(n.children)
	for _, child := range n.children {
		size += child.serializedSize()
	}
	return size
}

func (n *trieNode) serializeAt(buf []byte, at int) int {
	value := n.value
	if n.terminal {
		value |= trieTerminal
	}
	binary.LittleEndian.PutUint64(buf[at:], value)
	binary.LittleEndian.PutUint16(buf[at+8:], uint16(len(n.children)))
	entryBase := at + 10
	childAt := entryBase + 5*len(n.children)

	bytes := make([]byte, 0, len(n.children))
	for b := range n.children {
		bytes = append(bytes, b)
	}
	sort.Slice(bytes, func(i, j int) bool { return bytes[i] < bytes[j] })

	for i, b := range bytes {
		buf[entryBase+5*i] = b
		binary.LittleEndian.PutUint32(buf[entryBase+5*i+1:], uint32(childAt))
		childAt = n.children[b].serializeAt(buf, childAt)
	}
	return childAt
}

// trieWord is one entry of a trie under construction.
type trieWord struct {
	word  []byte
	value uint64
}

// serializeTrie builds the on-disk trie from words. Duplicate words keep the
// highest value.
func serializeTrie(words []trieWord) []byte {
	root := newTrieNode()
	for _, w := range words {
		root.insert(w.word, w.value)
	}
	buf := make([]byte, root.serializedSize())
	root.serializeAt(buf, 0)
	return buf
}

func trieChild(blob []byte, at int, b byte) (int, bool) {
	count := int(binary.LittleEndian.Uint16(blob[at+8:]))
	entryBase := at + 10
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		got := blob[entryBase+5*mid]
		switch {
		case got == b:
			return int(binary.LittleEndian.Uint32(blob[entryBase+5*mid+1:])), true
		case got < b:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// trieHasWord reports whether word is a member of the serialized trie.
func trieHasWord(blob []byte, word []byte) bool {
	if len(blob) == 0 {
		return false
	}
	at := 0
	for _, b := range word {
		next, ok := trieChild(blob, at, b)
		if !ok {
			return false
		}
		at = next
	}
	return binary.LittleEndian.Uint64(blob[at:])&trieTerminal != 0
}

// trieHasPrefix reports whether any stored word starts with prefix.
func trieHasPrefix(blob []byte, prefix []byte) bool {
	if len(blob) == 0 {
		return false
	}
	at := 0
	for _, b := range prefix {
		next, ok := trieChild(blob, at, b)
		if !ok {
			return false
		}
		at = next
	}
	return true
}

// trieMaxPrefixValue walks word through the trie and returns the highest
// value among terminal nodes whose word is a prefix of word (including word
// itself). ok is false when no prefix matches.
func trieMaxPrefixValue(blob []byte, word []byte) (uint64, bool) {
	if len(blob) == 0 {
		return 0, false
	}
	var best uint64
	found := false
	at := 0
	value := binary.LittleEndian.Uint64(blob)
	if value&trieTerminal != 0 {
		best, found = value&^trieTerminal, true
	}
	for _, b := range word {
		next, ok := trieChild(blob, at, b)
		if !ok {
			return best, found
		}
		at = next
		value = binary.LittleEndian.Uint64(blob[at:])
		if value&trieTerminal != 0 {
			v := value &^ trieTerminal
			if !found || v > best {
				best, found = v, true
			}
		}
	}
	return best, found
}

// trieWords returns every (word, value) stored in the trie, sorted.
func trieWords(blob []byte) []trieWord {
	if len(blob) == 0 {
		return nil
	}
	var out []trieWord
	var walk func(at int, prefix []byte)
	walk = func(at int, prefix []byte) {
		value := binary.LittleEndian.Uint64(blob[at:])
		if value&trieTerminal != 0 {
			word := make([]byte, len(prefix))
			copy(word, prefix)
			out = append(out, trieWord{word: word, value: value &^ trieTerminal})
		}
		count := int(binary.LittleEndian.Uint16(blob[at+8:]))
		entryBase := at + 10
		for i := 0; i < count; i++ {
			b := blob[entryBase+5*i]
			next := int(binary.LittleEndian.Uint32(blob[entryBase+5*i+1:]))
			walk(next, append(prefix, b))
		}
	}
	walk(0, nil)
	return out
}
