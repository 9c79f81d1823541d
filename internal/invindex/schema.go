// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package invindex builds the text, paragraph and relation segments on an
// embedded full-text engine. The engine's per-segment files are opaque to
// the rest of the core; this package only promises the shared contract:
// search with a pre-filter, key iteration, deterministic merge and a file
// listing for replication.
package invindex

import (
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Field names shared by every kind.
const (
	fieldKey      = "key"
	fieldText     = "text"
	fieldLabels   = "labels"
	fieldGroups   = "groups"
	fieldPublic   = "public"
	fieldCreated  = "created"
	fieldModified = "modified"
	fieldFacets   = "facets"

	// Relation kind only.
	fieldSource   = "source"
	fieldRelation = "relation"
	fieldTarget   = "target"

	publicMarker = "T"
)

// Record is one indexed document. For the paragraph kind the key addresses a
// paragraph (resource/field/start-end); for the relation kind Source,
// Relation and Target are set instead of Text.
type Record struct {
	Key      string
	Text     string
	Labels   []string
	Groups   []string
	Created  time.Time
	Modified time.Time
	// Facets carries facet values. Writers normalize to a single value;
	// old segments may hold two, and readers take the last.
	Facets []string

	Source   string
	Relation string
	Target   string
}

// document is the engine-facing shape of a Record. Everything is stored so
// merges can re-feed surviving documents.
func (r *Record) document() map[string]interface{} {
	doc := map[string]interface{}{
		fieldKey:    r.Key,
		fieldLabels: r.Labels,
		fieldFacets: r.Facets,
	}
	if r.Text != "" {
		doc[fieldText] = r.Text
	}
	if len(r.Groups) == 0 {
		doc[fieldPublic] = publicMarker
	} else {
		doc[fieldGroups] = r.Groups
	}
	if !r.Created.IsZero() {
		doc[fieldCreated] = r.Created.Format(time.RFC3339Nano)
	}
	if !r.Modified.IsZero() {
		doc[fieldModified] = r.Modified.Format(time.RFC3339Nano)
	}
	if r.Source != "" || r.Target != "" {
		doc[fieldSource] = r.Source
		doc[fieldRelation] = r.Relation
		doc[fieldTarget] = r.Target
	}
	return doc
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()

	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = true

	text := bleve.NewTextFieldMapping()
	text.Store = true

	date := bleve.NewDateTimeFieldMapping()
	date.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldKey, keyword)
	doc.AddFieldMappingsAt(fieldText, text)
	doc.AddFieldMappingsAt(fieldLabels, keyword)
	doc.AddFieldMappingsAt(fieldGroups, keyword)
	doc.AddFieldMappingsAt(fieldPublic, keyword)
	doc.AddFieldMappingsAt(fieldFacets, keyword)
	doc.AddFieldMappingsAt(fieldCreated, date)
	doc.AddFieldMappingsAt(fieldModified, date)
	doc.AddFieldMappingsAt(fieldSource, keyword)
	doc.AddFieldMappingsAt(fieldRelation, keyword)
	doc.AddFieldMappingsAt(fieldTarget, keyword)

	m.DefaultMapping = doc
	return m
}
