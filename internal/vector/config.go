// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package vector implements the per-segment vector index: an HNSW graph over
// encoded vectors, RaBitQ quantization with raw-vector reranking, a label
// trie per node and a key-prefix delete log.
package vector

import (
	"encoding/json"

	"github.com/stratosearch/stratos/internal/errdef"
)

// Similarity selects the scoring function between vectors.
type Similarity string

const (
	SimilarityDot    Similarity = "dot"
	SimilarityCosine Similarity = "cosine"
)

// Config is the typed per-index configuration every segment of a vector
// index shares.
type Config struct {
	Dimension  int        `json:"dimension"`
	Similarity Similarity `json:"similarity"`
	// Normalize projects vectors onto the unit sphere at build and query
	// time, making dot products cosine similarities.
	Normalize bool `json:"normalize"`
	// RaBitQ enables binary quantization with estimate-then-rerank search.
	RaBitQ bool `json:"rabitq"`

	// HNSW construction parameters; zero values take the defaults.
	M              int `json:"m,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty"`
}

const (
	defaultM              = 30
	defaultEfConstruction = 100
)

// Validate checks the config invariants.
func (c *Config) Validate() error {
	if c.Dimension <= 0 {
		return errdef.InvalidArgument("vector dimension must be positive, got %d", c.Dimension)
	}
	if c.RaBitQ && c.Dimension%64 != 0 {
		return errdef.InvalidArgument("rabitq requires a dimension multiple of 64, got %d", c.Dimension)
	}
	switch c.Similarity {
	case SimilarityDot, SimilarityCosine:
	case "":
		c.Similarity = SimilarityCosine
	default:
		return errdef.InvalidArgument("unknown similarity %q", c.Similarity)
	}
	if c.M == 0 {
		c.M = defaultM
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = defaultEfConstruction
	}
	return nil
}

// ParseConfig decodes and validates an index config blob.
func ParseConfig(blob []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(blob, &c); err != nil {
		return nil, errdef.InvalidArgument("decoding vector config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal encodes the config for the index row.
func (c *Config) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
