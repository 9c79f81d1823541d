// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package typeutil

// UniqueID is the shared identifier type for metadata rows.
type UniqueID = int64

// Seq is the per-shard monotonic sequence number. Every write and every merge
// job carries one; readers serve a snapshot at a consistent Seq.
type Seq = int64

// IndexID identifies an index row.
type IndexID = UniqueID

// JobID identifies a merge job row.
type JobID = UniqueID

// NodeAddr identifies a node within a vector segment, as an offset into the
// segment's node store.
type NodeAddr = uint64

// Timestamp is a unix timestamp in seconds.
type Timestamp = int64
