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
)

// Node blob layout, little endian, one blob per node concatenated in key
// order inside the nodes file:
//
//	len          u64  total blob size
//	vector_start u64  offset of the vector region within the blob
//	key_start    u64  offset of [key_len u64][key_bytes]
//	label_start  u64  offset of the node's label trie
//	padding            so the vector lands on the simd alignment boundary
//	vector region      raw f32 values
//	key region
//	label trie
//
// A node is addressed by the byte offset of its blob in the file.

const (
	nodeHeaderLen = 4 * 8
	// simdAlign keeps vectors aligned for the similarity kernels.
	simdAlign = 32
)

func nodePadding(fileOffset uint64) int {
	vectorAt := fileOffset + nodeHeaderLen
	if rem := vectorAt % simdAlign; rem != 0 {
		return int(simdAlign - rem)
	}
	return 0
}

// encodeNode serializes one node placed at fileOffset in the nodes file.
// labels must be a serialized trie.
func encodeNode(fileOffset uint64, key []byte, vector []float32, labelTrie []byte) []byte {
	padding := nodePadding(fileOffset)
	vectorStart := nodeHeaderLen + padding
	keyStart := vectorStart + 4*len(vector)
	labelStart := keyStart + 8 + len(key)
	total := labelStart + len(labelTrie)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:], uint64(total))
	binary.LittleEndian.PutUint64(buf[8:], uint64(vectorStart))
	binary.LittleEndian.PutUint64(buf[16:], uint64(keyStart))
	binary.LittleEndian.PutUint64(buf[24:], uint64(labelStart))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[vectorStart+4*i:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint64(buf[keyStart:], uint64(len(key)))
	copy(buf[keyStart+8:], key)
	copy(buf[labelStart:], labelTrie)
	return buf
}

// nodeLen reads the blob size of the node at blob[0:].
func nodeLen(blob []byte) uint64 {
	return binary.LittleEndian.Uint64(blob)
}

// nodeKey returns the key bytes of a node blob.
func nodeKey(blob []byte) []byte {
	keyStart := binary.LittleEndian.Uint64(blob[16:])
	keyLen := binary.LittleEndian.Uint64(blob[keyStart:])
	return blob[keyStart+8 : keyStart+8+keyLen]
}

// nodeVector returns the raw f32 region of a node blob.
func nodeVector(blob []byte, dimension int) []float32 {
	vectorStart := binary.LittleEndian.Uint64(blob[8:])
	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[vectorStart+uint64(4*i):]))
	}
	return out
}

// nodeVectorBytes returns the vector region without decoding.
func nodeVectorBytes(blob []byte) []byte {
	vectorStart := binary.LittleEndian.Uint64(blob[8:])
	keyStart := binary.LittleEndian.Uint64(blob[16:])
	return blob[vectorStart:keyStart]
}

// nodeHasLabel checks membership in the node's label trie.
func nodeHasLabel(blob []byte, label []byte) bool {
	labelStart := binary.LittleEndian.Uint64(blob[24:])
	total := binary.LittleEndian.Uint64(blob)
	return trieHasWord(blob[labelStart:total], label)
}

// nodeLabelTrie returns the serialized label trie region.
func nodeLabelTrie(blob []byte) []byte {
	labelStart := binary.LittleEndian.Uint64(blob[24:])
	total := binary.LittleEndian.Uint64(blob)
	return blob[labelStart:total]
}

func dot(a, b []float32) float32 {
	var acc float32
	for i := range a {
		acc += a[i] * b[i]
	}
	return acc
}

func normalize(v []float32) []float32 {
	var modulus float64
	for _, w := range v {
		modulus += float64(w) * float64(w)
	}
	modulus = math.Sqrt(modulus)
	if modulus == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, w := range v {
		out[i] = float32(float64(w) / modulus)
	}
	return out
}
