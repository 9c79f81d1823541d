// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package objectstore moves packed segment directories between local disk and
// a remote object store.
package objectstore

import (
	"context"
	"io"
)

// ObjectStore is the minimal surface the engine needs from a blob store.
type ObjectStore interface {
	// Put streams an object. Size may be -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}
