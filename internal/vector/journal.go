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
	"encoding/json"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/stratosearch/stratos/internal/errdef"
)

const bloomFalsePositiveRate = 0.01

// Journal is the per-segment metadata record. It doubles as the opaque
// metadata blob stored in the segment row.
type Journal struct {
	ID        uuid.UUID `json:"id"`
	NodeCount int64     `json:"node_count"`
	CreatedAt time.Time `json:"created_at"`
	Dimension int       `json:"dimension"`
	// Keys is a bloom filter over the segment's keys; readers consult it
	// before walking delete tries or node lookups.
	Keys *bloom.BloomFilter `json:"keys"`
}

func newJournal(dimension int, keys [][]byte) *Journal {
	n := uint(len(keys))
	if n == 0 {
		n = 1
	}
	filter := bloom.NewWithEstimates(n, bloomFalsePositiveRate)
	for _, k := range keys {
		filter.Add(k)
	}
	return &Journal{
		ID:        uuid.New(),
		NodeCount: int64(len(keys)),
		CreatedAt: time.Now().UTC(),
		Dimension: dimension,
		Keys:      filter,
	}
}

func (j *Journal) marshal() ([]byte, error) {
	blob, err := json.Marshal(j)
	if err != nil {
		return nil, errdef.IO(err, "encoding journal")
	}
	return blob, nil
}

func parseJournal(blob []byte) (*Journal, error) {
	var j Journal
	if err := json.Unmarshal(blob, &j); err != nil {
		return nil, errdef.Corrupted(err, "decoding journal")
	}
	return &j, nil
}

// MightContainKey is a fast negative test for key membership.
func (j *Journal) MightContainKey(key []byte) bool {
	if j.Keys == nil {
		return true
	}
	return j.Keys.Test(key)
}
