// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package metrics holds the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stratos"

var (
	// MergeJobTotal counts finished merge jobs by status.
	MergeJobTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "merge_job_total",
			Help:      "number of merge jobs executed, by status",
		}, []string{"status"})

	// MergeDuration observes per-kind merge latency.
	MergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "merge_duration_seconds",
			Help:      "time spent merging segments, by index kind",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"kind"})

	// WorkerBusySeconds accumulates worker busy/idle time.
	WorkerBusySeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "busy_seconds_total",
			Help:      "seconds the worker spent busy or idle",
		}, []string{"state"})

	// SegmentDownloadBytes counts bytes fetched from the object store.
	SegmentDownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "segment_download_bytes_total",
			Help:      "bytes downloaded from the object store",
		})

	// SegmentUploadBytes counts bytes pushed to the object store.
	SegmentUploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "segment_upload_bytes_total",
			Help:      "bytes uploaded to the object store",
		})

	// IndexCacheEvents counts cache hits and misses on segment opens.
	IndexCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "searcher",
			Name:      "index_cache_events_total",
			Help:      "segment cache hits and misses",
		}, []string{"event"})

	// SearchDuration observes per-index search latency.
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "search_duration_seconds",
			Help:      "per index search latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"kind"})
)

// Register installs every collector into the given registry.
func Register(r prometheus.Registerer) {
	r.MustRegister(MergeJobTotal)
	r.MustRegister(MergeDuration)
	r.MustRegister(WorkerBusySeconds)
	r.MustRegister(SegmentDownloadBytes)
	r.MustRegister(SegmentUploadBytes)
	r.MustRegister(IndexCacheEvents)
	r.MustRegister(SearchDuration)
}
