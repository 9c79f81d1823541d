// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package merge

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratosearch/stratos/internal/metadata"
)

func segID(n int) metadata.SegmentID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

func metas(pairs ...[2]int64) []SegmentMeta {
	out := make([]SegmentMeta, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, SegmentMeta{ID: segID(int(p[0])), Records: p[1]})
	}
	return out
}

func ids(ns ...int) []metadata.SegmentID {
	out := make([]metadata.SegmentID, 0, len(ns))
	for _, n := range ns {
		out = append(out, segID(n))
	}
	return out
}

func defaultSettings() Settings {
	return Settings{
		MinSegments:           4,
		TopBucketMaxRecords:   10_000_000,
		BottomBucketThreshold: 10_000,
		BucketSizeLog:         0.75,
	}
}

func TestPlanNotEnoughSegments(t *testing.T) {
	s := defaultSettings()
	jobs := Plan(s, metas([2]int64{1, 50}, [2]int64{2, 50}, [2]int64{3, 50}))
	assert.Empty(t, jobs)
}

func TestPlanSameSizeSegments(t *testing.T) {
	s := defaultSettings()
	s.MinSegments = 3
	jobs := Plan(s, metas([2]int64{1, 50}, [2]int64{2, 50}, [2]int64{3, 50}))
	require.Len(t, jobs, 1)
	assert.Equal(t, ids(1, 2, 3), jobs[0])
}

func TestPlanAllBuckets(t *testing.T) {
	s := Settings{
		MinSegments:           2,
		TopBucketMaxRecords:   1000,
		BottomBucketThreshold: 50,
		BucketSizeLog:         1.0,
	}
	jobs := Plan(s, metas(
		[2]int64{7, 1001}, // over the max segment size, never merged
		[2]int64{3, 1000}, // marks the top bucket
		[2]int64{12, 501}, // last element in top bucket
		[2]int64{13, 500}, // just below the top bucket
		[2]int64{11, 249},
		[2]int64{9, 125},
		[2]int64{5, 124},
		[2]int64{4, 63},
		[2]int64{6, 62},
		[2]int64{10, 51},
		[2]int64{1, 50},
		[2]int64{2, 10}, // clamped into the bottom bucket
		[2]int64{8, 20},
	))
	require.Len(t, jobs, 4)
	assert.Equal(t, ids(3, 12), jobs[0])
	assert.Equal(t, ids(11, 9), jobs[1])
	assert.Equal(t, ids(5, 4), jobs[2])
	assert.Equal(t, ids(6, 10, 1, 2, 8), jobs[3])
	// 1001 exceeded the record ceiling, 500 fell below min segments.
}

func TestPlanIsPure(t *testing.T) {
	s := defaultSettings()
	s.MinSegments = 2
	input := metas([2]int64{1, 500}, [2]int64{2, 500}, [2]int64{3, 499}, [2]int64{4, 498})
	first := Plan(s, input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Plan(s, input))
	}
}

func TestPlanEqualCountsKeepInputOrder(t *testing.T) {
	s := defaultSettings()
	s.MinSegments = 2
	jobs := Plan(s, metas([2]int64{9, 100}, [2]int64{4, 100}, [2]int64{7, 100}))
	require.Len(t, jobs, 1)
	assert.Equal(t, ids(9, 4, 7), jobs[0])
}

func TestPlanEmptyInput(t *testing.T) {
	assert.Empty(t, Plan(defaultSettings(), nil))
}
