// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package invindex

import (
	"strings"

	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/util/typeutil"
)

// MergeInput is one source segment with its deletion context.
type MergeInput struct {
	Segment *Segment
	Seq     typeutil.Seq
	// Deletions are the key-prefix deletions that apply to this input:
	// entries with seq > Seq hide matching records.
	Deletions []Deletion
}

// Deletion mirrors the metadata deletion row for this index.
type Deletion struct {
	KeyPrefix string
	Seq       typeutil.Seq
}

func deleted(key string, segSeq typeutil.Seq, deletions []Deletion) bool {
	for _, d := range deletions {
		if d.Seq > segSeq && strings.HasPrefix(key, d.KeyPrefix) {
			return true
		}
	}
	return false
}

// Merge combines inputs into one segment at dir, applying deletions. The
// result is deterministic in segment order: documents are re-fed input by
// input, and a key present in several inputs keeps the newest one.
func Merge(dir string, inputs []MergeInput) (*Metadata, error) {
	seen := make(map[string]typeutil.Seq)
	var records []Record
	for _, in := range inputs {
		docs, err := in.Segment.allRecords()
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if deleted(doc.Key, in.Seq, in.Deletions) {
				continue
			}
			if prev, ok := seen[doc.Key]; ok && prev >= in.Seq {
				continue
			}
			seen[doc.Key] = in.Seq
			// Writers normalize the historical multi-facet shape away.
			if len(doc.Facets) > 1 {
				doc.Facets = doc.Facets[len(doc.Facets)-1:]
			}
			records = append(records, doc)
		}
	}

	// Later duplicates replaced earlier ones in seen; drop the stale copies.
	byKey := make(map[string]int, len(records))
	out := records[:0]
	for _, r := range records {
		if i, ok := byKey[r.Key]; ok {
			out[i] = r
			continue
		}
		byKey[r.Key] = len(out)
		out = append(out, r)
	}

	meta, err := Build(dir, out)
	if err != nil {
		return nil, err
	}
	log.Info("merged inverted segments", zap.Int("inputs", len(inputs)), zap.Int64("records", meta.Records))
	return meta, nil
}
