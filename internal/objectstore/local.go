// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/stratosearch/stratos/internal/errdef"
)

// LocalStore keeps objects under a directory. Used by tests and single-node
// deployments without an object store.
type LocalStore struct {
	root string
}

// NewLocalStore roots the store at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdef.IO(err, "creating local store root %s", dir)
	}
	return &LocalStore{root: dir}, nil
}

var _ ObjectStore = (*LocalStore)(nil)

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func (s *LocalStore) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdef.IO(err, "creating %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return errdef.IO(err, "creating temp file for %s", key)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return errdef.IO(err, "writing %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errdef.IO(err, "closing %s", key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errdef.IO(err, "publishing %s", key)
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, errdef.NotFound("object %s", key)
	}
	if err != nil {
		return nil, errdef.IO(err, "opening %s", key)
	}
	return f, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errdef.IO(err, "deleting %s", key)
	}
	return nil
}
