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
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rabitqDim = 512

func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return normalize(v)
}

func randomNearbyVector(rng *rand.Rand, closeTo []float32, distance float32) []float32 {
	fuzz := randomUnitVector(rng, len(closeTo))
	v := make([]float32, len(closeTo))
	for i := range v {
		v[i] = closeTo[i] + fuzz[i]*distance
	}
	return normalize(v)
}

func TestRabitqEstimateWithinBound(t *testing.T) {
	rng := rand.New(rand.NewSource(123))

	v1 := randomUnitVector(rng, rabitqDim)
	v2 := randomNearbyVector(rng, v1, 0.1)
	v3 := randomUnitVector(rng, rabitqDim)

	encoded := encodedVector(encodeQuantized(v1))

	// High similarity pair.
	actual := dot(v1, v2)
	estimate, errBound := newQueryVector(v2).similarity(encoded)
	assert.Less(t, math.Abs(float64(actual-estimate)), float64(errBound))
	assert.Less(t, float64(errBound), 0.25)

	// Low similarity pair.
	actual = dot(v1, v3)
	estimate, errBound = newQueryVector(v3).similarity(encoded)
	assert.Less(t, math.Abs(float64(actual-estimate)), float64(errBound))
}

func TestRabitqBoundHoldsAcrossDataset(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	query := randomUnitVector(rng, rabitqDim)
	qv := newQueryVector(query)

	for i := 0; i < 100; i++ {
		v := randomUnitVector(rng, rabitqDim)
		estimate, errBound := qv.similarity(encodedVector(encodeQuantized(v)))
		actual := dot(query, v)
		assert.LessOrEqual(t, math.Abs(float64(actual-estimate)), float64(errBound)+1e-3,
			"vector %d estimate out of bound", i)
	}
}

func TestQuantizedRecordLayout(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := randomUnitVector(rng, 128)
	rec := encodeQuantized(v)
	require.Len(t, rec, quantizedRecordLen(128))

	e := encodedVector(rec)
	var wantBits uint32
	for _, w := range v {
		if w > 0 {
			wantBits++
		}
	}
	assert.Equal(t, wantBits, e.sumBits())
	// The binary representation always correlates positively with its
	// source vector.
	assert.Positive(t, e.dotQuantOriginal())
}

func TestQueryVectorDotAgainstSelf(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	v := randomUnitVector(rng, 128)
	estimate, errBound := newQueryVector(v).similarity(encodedVector(encodeQuantized(v)))
	assert.InDelta(t, 1.0, float64(estimate), float64(errBound)+1e-3)
}
