// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package merge schedules and executes segment merges. The planner is a
// logarithmic merge policy: segments are split into buckets of similar
// record counts and segments within a bucket merge together.
package merge

import (
	"math"

	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/util/paramtable"
)

// Settings are the planner knobs.
type Settings struct {
	// MinSegments is the minimum group size worth a merge job.
	MinSegments int
	// TopBucketMaxRecords freezes larger segments out of merging.
	TopBucketMaxRecords int
	// BottomBucketThreshold clamps smaller segments into one bucket.
	BottomBucketThreshold int
	// BucketSizeLog is the log2 span of one bucket. Increasing it groups
	// more segment sizes into the same merge job.
	BucketSizeLog float64
}

// SettingsFromParams picks the configured knobs.
func SettingsFromParams(p *paramtable.MergeParams) Settings {
	return Settings{
		MinSegments:           p.MinNumberOfSegments,
		TopBucketMaxRecords:   p.TopBucketMaxRecords,
		BottomBucketThreshold: p.BottomBucketThreshold,
		BucketSizeLog:         p.BucketSizeLog,
	}
}

// SegmentMeta is the planner's view of one segment.
type SegmentMeta struct {
	ID      metadata.SegmentID
	Records int64
}

// Plan buckets segments by log2 of their record count and emits one or more
// merge jobs per bucket. It is a pure function: segments must arrive sorted
// by record count descending (the candidate query guarantees it) and equal
// counts keep their input order.
//
// The caller must only pass segments whose seq is at most one below every
// in-flight write; merging anything newer could drop deletions committed in
// between.
func Plan(s Settings, segments []SegmentMeta) [][]metadata.SegmentID {
	var buckets [][]SegmentMeta
	var current []SegmentMeta
	ceiling := math.MaxFloat64

	for _, seg := range segments {
		records := seg.Records
		if records < int64(s.BottomBucketThreshold) {
			records = int64(s.BottomBucketThreshold)
		}
		sizeLog := math.Log2(float64(records))
		if sizeLog <= ceiling-s.BucketSizeLog {
			// Crossed into the next bucket; close the current one.
			buckets = append(buckets, current)
			current = nil
			ceiling = sizeLog
		}
		current = append(current, seg)
	}
	buckets = append(buckets, current)

	var jobs [][]metadata.SegmentID
	for _, bucket := range buckets {
		if len(bucket) < s.MinSegments {
			continue
		}
		var sum int64
		var group []metadata.SegmentID
		for _, seg := range bucket {
			sum += seg.Records
			group = append(group, seg.ID)
			if sum > int64(s.TopBucketMaxRecords) {
				if len(group) >= s.MinSegments {
					jobs = append(jobs, group)
				}
				sum = 0
				group = nil
			}
		}
		if len(group) >= s.MinSegments {
			jobs = append(jobs, group)
		}
	}
	return jobs
}
