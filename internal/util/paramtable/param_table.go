// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package paramtable loads engine configuration from an optional yaml file
// and environment variables. Environment variables use the STRATOS_ prefix
// with dots replaced by underscores, e.g. merge.minNumberOfSegments becomes
// STRATOS_MERGE_MINNUMBEROFSEGMENTS.
package paramtable

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	defaultYaml = "stratos.yaml"
	envPrefix   = "stratos"
)

// BaseTable is the raw key/value layer under the typed param structs.
type BaseTable struct {
	once sync.Once
	vp   *viper.Viper
}

// Init loads the yaml file (if present) and prepares env overrides.
func (bt *BaseTable) Init() {
	bt.once.Do(func() {
		bt.vp = viper.New()
		bt.vp.SetConfigFile(defaultYaml)
		bt.vp.SetEnvPrefix(envPrefix)
		bt.vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		bt.vp.AutomaticEnv()
		// A missing config file is fine, env and defaults still apply.
		_ = bt.vp.ReadInConfig()
	})
}

// Load returns the raw string for key, or def when unset.
func (bt *BaseTable) Load(key, def string) string {
	if v := bt.vp.GetString(key); v != "" {
		return v
	}
	return def
}

// LoadInt parses key as an int, falling back to def.
func (bt *BaseTable) LoadInt(key string, def int) int {
	if v := bt.vp.GetString(key); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			return i
		}
	}
	return def
}

// LoadFloat parses key as a float64, falling back to def.
func (bt *BaseTable) LoadFloat(key string, def float64) float64 {
	if v := bt.vp.GetString(key); v != "" {
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	}
	return def
}

// LoadBool parses key as a bool, falling back to def.
func (bt *BaseTable) LoadBool(key string, def bool) bool {
	if v := bt.vp.GetString(key); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	return def
}

// LoadDuration parses key as a duration in seconds, falling back to def.
func (bt *BaseTable) LoadDuration(key string, def time.Duration) time.Duration {
	if v := bt.vp.GetString(key); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return def
}

// MergeParams are the knobs of the log-bucket merge scheduler.
type MergeParams struct {
	MinNumberOfSegments   int
	TopBucketMaxRecords   int
	BottomBucketThreshold int
	BucketSizeLog         float64
	MaxJobRetries         int
}

// WorkerParams control the merge worker loop.
type WorkerParams struct {
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	IdleWait          time.Duration
	WorkPath          string
}

// StorageParams configure the object store driver.
type StorageParams struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	BucketName string
}

// SearcherParams control the replica sync loop and index cache.
type SearcherParams struct {
	SyncInterval      time.Duration
	ReplicationFactor int
	MaxOpenSegments   int
	HostKeyPath       string
	MetadataEndpoints []string
}

// VectorParams are per-process defaults for HNSW construction and search.
type VectorParams struct {
	M              int
	EfConstruction int
}

// ComponentParam aggregates all typed parameter groups.
type ComponentParam struct {
	BaseTable

	Merge    MergeParams
	Worker   WorkerParams
	Storage  StorageParams
	Searcher SearcherParams
	Vector   VectorParams
}

// Init loads every parameter group.
func (p *ComponentParam) Init() {
	p.BaseTable.Init()

	p.Merge = MergeParams{
		MinNumberOfSegments:   p.LoadInt("merge.minNumberOfSegments", 4),
		TopBucketMaxRecords:   p.LoadInt("merge.maxSegmentSize", 10_000_000),
		BottomBucketThreshold: p.LoadInt("merge.bottomBucketThreshold", 10_000),
		BucketSizeLog:         p.LoadFloat("merge.bucketSizeLog", 0.75),
		MaxJobRetries:         p.LoadInt("merge.maxJobRetries", 5),
	}
	p.Worker = WorkerParams{
		LeaseDuration:     p.LoadDuration("worker.leaseDuration", 90*time.Second),
		HeartbeatInterval: p.LoadDuration("worker.heartbeatInterval", 45*time.Second),
		IdleWait:          p.LoadDuration("worker.idleWait", 5*time.Second),
		WorkPath:          p.Load("worker.workPath", ""),
	}
	p.Storage = StorageParams{
		Endpoint:   p.Load("storage.endpoint", "localhost:9000"),
		AccessKey:  p.Load("storage.accessKey", "minioadmin"),
		SecretKey:  p.Load("storage.secretKey", "minioadmin"),
		UseSSL:     p.LoadBool("storage.useSSL", false),
		BucketName: p.Load("storage.bucket", "stratos-segments"),
	}
	p.Searcher = SearcherParams{
		SyncInterval:      p.LoadDuration("searcher.syncInterval", time.Second),
		ReplicationFactor: p.LoadInt("searcher.replicationFactor", 1),
		MaxOpenSegments:   p.LoadInt("searcher.maxOpenSegments", 0),
		HostKeyPath:       p.Load("searcher.hostKeyPath", "host_key"),
		MetadataEndpoints: strings.Split(p.Load("searcher.metadataEndpoints", "localhost:2379"), ","),
	}
	p.Vector = VectorParams{
		M:              p.LoadInt("vector.hnswM", 30),
		EfConstruction: p.LoadInt("vector.efConstruction", 100),
	}
}

var (
	// Params is the process-wide parameter table.
	Params   ComponentParam
	initOnce sync.Once
)

// Get initializes Params on first use and returns it.
func Get() *ComponentParam {
	initOnce.Do(func() {
		Params.Init()
	})
	return &Params
}
