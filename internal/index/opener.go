// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package index

import (
	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/invindex"
	"github.com/stratosearch/stratos/internal/metadata"
	"github.com/stratosearch/stratos/internal/util/typeutil"
	"github.com/stratosearch/stratos/internal/vector"
)

// OpenSegment locates one sealed segment on local disk.
type OpenSegment struct {
	ID  metadata.SegmentID
	Dir string
	Seq typeutil.Seq
}

// Open produces a queryable view for an index over the given local
// segments. Opening performs no more I/O than mapping the segment files, so
// replicas can construct views at request rate.
func Open(idx *metadata.Index, segments []OpenSegment, deletions []metadata.Deletion) (*View, error) {
	switch idx.Kind {
	case metadata.KindVector:
		config, err := vector.ParseConfig(idx.Config)
		if err != nil {
			return nil, err
		}
		refs := make([]VectorSegmentRef, 0, len(segments))
		for _, seg := range segments {
			reader, err := vector.Open(seg.Dir, config)
			if err != nil {
				return nil, err
			}
			refs = append(refs, VectorSegmentRef{Reader: reader, Seq: seg.Seq})
		}
		return NewVectorView(refs, deletions, nil), nil

	case metadata.KindText, metadata.KindParagraph, metadata.KindRelation:
		refs := make([]InvSegmentRef, 0, len(segments))
		for _, seg := range segments {
			open, err := invindex.Open(seg.Dir)
			if err != nil {
				for _, r := range refs {
					r.Segment.Close()
				}
				return nil, err
			}
			refs = append(refs, InvSegmentRef{Segment: open, Seq: seg.Seq})
		}
		return NewInvertedView(idx.Kind, refs, deletions, nil), nil

	default:
		return nil, errdef.InvalidArgument("unknown index kind %q", idx.Kind)
	}
}

// MergeSegments dispatches the index-specific merger. The tagged kind is
// matched here, at the worker boundary, so workers stay index-agnostic.
func MergeSegments(idx *metadata.Index, outDir string, inputs []OpenSegment, deletions []metadata.Deletion) (records int64, blob []byte, err error) {
	switch idx.Kind {
	case metadata.KindVector:
		config, err := vector.ParseConfig(idx.Config)
		if err != nil {
			return 0, nil, err
		}
		ins := make([]vector.MergeInput, 0, len(inputs))
		for _, seg := range inputs {
			reader, err := vector.Open(seg.Dir, config)
			if err != nil {
				return 0, nil, err
			}
			view := make(vector.ListDeleteView, 0, len(deletions))
			for _, d := range deletions {
				view = append(view, vector.DeletionEntry{KeyPrefix: d.KeyPrefix, Seq: d.Seq})
			}
			ins = append(ins, vector.MergeInput{Reader: reader, Seq: seg.Seq, Deletions: view})
		}
		result, err := vector.Merge(outDir, config, ins)
		if err != nil {
			return 0, nil, err
		}
		return result.Records, result.Metadata, nil

	case metadata.KindText, metadata.KindParagraph, metadata.KindRelation:
		ins := make([]invindex.MergeInput, 0, len(inputs))
		defer func() {
			for _, in := range ins {
				in.Segment.Close()
			}
		}()
		for _, seg := range inputs {
			open, err := invindex.Open(seg.Dir)
			if err != nil {
				return 0, nil, err
			}
			dels := make([]invindex.Deletion, 0, len(deletions))
			for _, d := range deletions {
				dels = append(dels, invindex.Deletion{KeyPrefix: d.KeyPrefix, Seq: d.Seq})
			}
			ins = append(ins, invindex.MergeInput{Segment: open, Seq: seg.Seq, Deletions: dels})
		}
		meta, err := invindex.Merge(outDir, ins)
		if err != nil {
			return 0, nil, err
		}
		blob, err := meta.Marshal()
		if err != nil {
			return 0, nil, err
		}
		return meta.Records, blob, nil

	default:
		return 0, nil, errdef.InvalidArgument("unknown index kind %q", idx.Kind)
	}
}
