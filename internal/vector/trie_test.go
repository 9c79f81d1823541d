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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(ws ...string) []trieWord {
	out := make([]trieWord, 0, len(ws))
	for _, w := range ws {
		out = append(out, trieWord{word: []byte(w)})
	}
	return out
}

func TestTrieMembership(t *testing.T) {
	blob := serializeTrie(words("/l/cool", "/l/nice", "/q/g/engineering"))

	assert.True(t, trieHasWord(blob, []byte("/l/cool")))
	assert.True(t, trieHasWord(blob, []byte("/l/nice")))
	assert.True(t, trieHasWord(blob, []byte("/q/g/engineering")))
	assert.False(t, trieHasWord(blob, []byte("/l/coo")))
	assert.False(t, trieHasWord(blob, []byte("/l/cooler")))
	assert.False(t, trieHasWord(blob, []byte("/q/g/sales")))
	assert.False(t, trieHasWord(blob, []byte("")))
}

func TestTrieEmpty(t *testing.T) {
	blob := serializeTrie(nil)
	assert.False(t, trieHasWord(blob, []byte("anything")))
	assert.False(t, trieHasPrefix(blob, []byte("a")))
	_, ok := trieMaxPrefixValue(blob, []byte("a"))
	assert.False(t, ok)
	assert.Empty(t, trieWords(blob))
}

func TestTriePrefix(t *testing.T) {
	blob := serializeTrie(words("/q/g/engineering", "/q/g/sales"))
	assert.True(t, trieHasPrefix(blob, []byte("/q/g/")))
	assert.True(t, trieHasPrefix(blob, []byte("/q/g/eng")))
	assert.False(t, trieHasPrefix(blob, []byte("/q/h/")))
}

func TestTrieValues(t *testing.T) {
	blob := serializeTrie([]trieWord{
		{word: []byte("doc1"), value: 7},
		{word: []byte("doc1/field"), value: 9},
		{word: []byte("doc2"), value: 3},
	})

	// The deepest matching prefix does not win; the highest value does.
	v, ok := trieMaxPrefixValue(blob, []byte("doc1/field/0-20"))
	require.True(t, ok)
	assert.Equal(t, uint64(9), v)

	v, ok = trieMaxPrefixValue(blob, []byte("doc1/other"))
	require.True(t, ok)
	assert.Equal(t, uint64(7), v)

	v, ok = trieMaxPrefixValue(blob, []byte("doc2"))
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)

	_, ok = trieMaxPrefixValue(blob, []byte("doc3"))
	assert.False(t, ok)
}

func TestTrieDuplicateKeepsNewest(t *testing.T) {
	blob := serializeTrie([]trieWord{
		{word: []byte("doc"), value: 2},
		{word: []byte("doc"), value: 5},
		{word: []byte("doc"), value: 4},
	})
	v, ok := trieMaxPrefixValue(blob, []byte("doc"))
	require.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

func TestTrieRoundTrip(t *testing.T) {
	in := []trieWord{
		{word: []byte("a"), value: 1},
		{word: []byte("ab"), value: 2},
		{word: []byte("abc"), value: 3},
		{word: []byte("b"), value: 4},
	}
	got := trieWords(serializeTrie(in))
	require.Len(t, got, len(in))
	for i := range in {
		assert.Equal(t, in[i].word, got[i].word)
		assert.Equal(t, in[i].value, got[i].value)
	}
}
