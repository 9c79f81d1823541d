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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/cespare/xxhash/v2"

	"github.com/stratosearch/stratos/internal/errdef"
)

const iterPageSize = 1000

// SecurityFilter restricts reads by access groups. A nil filter means no
// security applies; an empty group list sees only public records.
type SecurityFilter struct {
	AccessGroups []string
}

// TimeRange bounds one of the record dates.
type TimeRange struct {
	Field string // fieldCreated or fieldModified
	From  *time.Time
	To    *time.Time
}

// SearchQuery is the engine-facing query after planning: a text match plus
// the pre-filter fragments the planner kept for this index.
type SearchQuery struct {
	Text        string
	Labels      []string
	KeyPrefixes []string
	// Keys restricts results to the pre-filtered key set.
	Keys     []string
	Times    []TimeRange
	Expr     *FilterExpr
	Security *SecurityFilter
	// Excluded drops deleted keys from postings; it runs after scoring.
	Excluded func(key string) bool

	From int
	Size int
}

// Posting is one scored search hit.
type Posting struct {
	Key   string
	Score float32
	// Facet is the record's facet value; historical segments carrying two
	// values surface the last one.
	Facet  string
	Fields map[string]interface{}
}

// Metadata is the opaque blob recorded in the segment row.
type Metadata struct {
	Records   int64     `json:"records"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is an open inverted-index segment.
type Segment struct {
	dir   string
	index bleve.Index
}

// Build indexes records into a fresh segment directory and returns the
// sealed segment's metadata blob. A failure removes the directory.
func Build(dir string, records []Record) (*Metadata, error) {
	index, err := bleve.NewUsing(dir, buildMapping(), bleve.Config.DefaultIndexType, bleve.Config.DefaultKVStore, nil)
	if err != nil {
		return nil, errdef.IO(err, "creating segment at %s", dir)
	}

	batch := index.NewBatch()
	for i := range records {
		if records[i].Key == "" {
			index.Close()
			os.RemoveAll(dir)
			return nil, errdef.InvalidArgument("record %d has no key", i)
		}
		if err := batch.Index(records[i].Key, records[i].document()); err != nil {
			index.Close()
			os.RemoveAll(dir)
			return nil, errdef.IO(err, "indexing %s", records[i].Key)
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		os.RemoveAll(dir)
		return nil, errdef.IO(err, "flushing segment at %s", dir)
	}
	if err := index.Close(); err != nil {
		os.RemoveAll(dir)
		return nil, errdef.IO(err, "sealing segment at %s", dir)
	}
	return &Metadata{Records: int64(len(records)), CreatedAt: time.Now().UTC()}, nil
}

// Open maps a sealed segment read-only.
func Open(dir string) (*Segment, error) {
	index, err := bleve.OpenUsing(dir, map[string]interface{}{"read_only": true})
	if err != nil {
		if err == bleve.ErrorIndexPathDoesNotExist || err == bleve.ErrorIndexMetaMissing {
			return nil, errdef.NotFound("segment %s", dir)
		}
		return nil, errdef.Corrupted(err, "opening segment %s", dir)
	}
	return &Segment{dir: dir, index: index}, nil
}

// Close releases the engine handle.
func (s *Segment) Close() error {
	return s.index.Close()
}

// Dir returns the segment directory.
func (s *Segment) Dir() string {
	return s.dir
}

// DocCount returns the number of stored documents.
func (s *Segment) DocCount() (uint64, error) {
	n, err := s.index.DocCount()
	if err != nil {
		return 0, errdef.IO(err, "counting docs in %s", s.dir)
	}
	return n, nil
}

func (q *SearchQuery) build() query.Query {
	var must []query.Query

	if q.Text != "" {
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField(fieldText)
		must = append(must, mq)
	}
	for _, label := range q.Labels {
		tq := bleve.NewTermQuery(label)
		tq.SetField(fieldLabels)
		must = append(must, tq)
	}
	if len(q.KeyPrefixes) > 0 {
		var any []query.Query
		for _, p := range q.KeyPrefixes {
			pq := bleve.NewPrefixQuery(p)
			pq.SetField(fieldKey)
			any = append(any, pq)
		}
		must = append(must, bleve.NewDisjunctionQuery(any...))
	}
	if len(q.Keys) > 0 {
		var any []query.Query
		for _, k := range q.Keys {
			tq := bleve.NewTermQuery(k)
			tq.SetField(fieldKey)
			any = append(any, tq)
		}
		must = append(must, bleve.NewDisjunctionQuery(any...))
	}
	if q.Expr != nil {
		must = append(must, q.Expr.build())
	}
	for _, tr := range q.Times {
		from, to := time.Time{}, time.Time{}
		if tr.From != nil {
			from = *tr.From
		}
		if tr.To != nil {
			to = *tr.To
		}
		rq := bleve.NewDateRangeQuery(from, to)
		rq.SetField(tr.Field)
		must = append(must, rq)
	}
	if q.Security != nil {
		public := bleve.NewTermQuery(publicMarker)
		public.SetField(fieldPublic)
		any := []query.Query{public}
		for _, g := range q.Security.AccessGroups {
			tq := bleve.NewTermQuery(g)
			tq.SetField(fieldGroups)
			any = append(any, tq)
		}
		must = append(must, bleve.NewDisjunctionQuery(any...))
	}

	if len(must) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(must...)
}

// Search runs the query and returns scored postings. Deleted keys are
// filtered out after scoring; the request over-fetches to compensate.
func (s *Segment) Search(q *SearchQuery) ([]Posting, error) {
	size := q.Size
	if size <= 0 {
		size = 20
	}
	fetch := size + q.From
	if q.Excluded != nil {
		fetch *= 2
	}

	req := bleve.NewSearchRequestOptions(q.build(), fetch, 0, false)
	req.Fields = []string{"*"}
	res, err := s.index.Search(req)
	if err != nil {
		return nil, errdef.IO(err, "searching segment %s", s.dir)
	}

	postings := make([]Posting, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if q.Excluded != nil && q.Excluded(hit.ID) {
			continue
		}
		postings = append(postings, Posting{
			Key:    hit.ID,
			Score:  float32(hit.Score),
			Facet:  lastFacet(hit.Fields),
			Fields: hit.Fields,
		})
	}
	return postings, nil
}

// lastFacet extracts the facet value. Some historical segments carry two
// values for a document; the last one wins.
func lastFacet(fields map[string]interface{}) string {
	switch v := fields[fieldFacets].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) == 0 {
			return ""
		}
		if s, ok := v[len(v)-1].(string); ok {
			return s
		}
	}
	return ""
}

// IterKeys returns every stored key in sorted order.
func (s *Segment) IterKeys() ([]string, error) {
	var keys []string
	from := 0
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), iterPageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := s.index.Search(req)
		if err != nil {
			return nil, errdef.IO(err, "iterating keys of %s", s.dir)
		}
		for _, hit := range res.Hits {
			keys = append(keys, hit.ID)
		}
		if len(res.Hits) < iterPageSize {
			return keys, nil
		}
		from += iterPageSize
	}
}

// allRecords streams back the stored form of every document, for merging.
func (s *Segment) allRecords() ([]Record, error) {
	keys, err := s.IterKeys()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(keys))
	for from := 0; from < len(keys); from += iterPageSize {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), iterPageSize, from, false)
		req.SortBy([]string{"_id"})
		req.Fields = []string{"*"}
		res, err := s.index.Search(req)
		if err != nil {
			return nil, errdef.IO(err, "reading records of %s", s.dir)
		}
		for _, hit := range res.Hits {
			records = append(records, recordFromFields(hit.ID, hit.Fields))
		}
	}
	return records, nil
}

func recordFromFields(key string, fields map[string]interface{}) Record {
	r := Record{Key: key}
	r.Text, _ = fields[fieldText].(string)
	r.Labels = stringValues(fields[fieldLabels])
	r.Groups = stringValues(fields[fieldGroups])
	r.Facets = stringValues(fields[fieldFacets])
	r.Source, _ = fields[fieldSource].(string)
	r.Relation, _ = fields[fieldRelation].(string)
	r.Target, _ = fields[fieldTarget].(string)
	if v, ok := fields[fieldCreated].(string); ok {
		r.Created, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := fields[fieldModified].(string); ok {
		r.Modified, _ = time.Parse(time.RFC3339Nano, v)
	}
	return r
}

func stringValues(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// FileEntry describes one engine file for replication.
type FileEntry struct {
	Path string
	Size int64
	Sum  uint64
}

// ListFiles walks the segment directory and returns files whose checksum is
// not already known to the replica, so a primary streams only deltas.
func (s *Segment) ListFiles(excluding map[string]uint64) ([]FileEntry, error) {
	var out []FileEntry
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := xxhash.Sum64(blob)
		if known, ok := excluding[rel]; ok && known == sum {
			return nil
		}
		out = append(out, FileEntry{Path: rel, Size: info.Size(), Sum: sum})
		return nil
	})
	if err != nil {
		return nil, errdef.IO(err, "listing files of %s", s.dir)
	}
	return out, nil
}

// Marshal encodes the metadata blob for the segment row.
func (m *Metadata) Marshal() ([]byte, error) {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, errdef.IO(err, "encoding segment metadata")
	}
	return blob, nil
}

// ParseMetadata decodes a segment row blob.
func ParseMetadata(blob []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, errdef.Corrupted(err, "decoding segment metadata")
	}
	return &m, nil
}
