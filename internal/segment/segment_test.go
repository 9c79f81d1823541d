// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratosearch/stratos/internal/errdef"
)

func TestSealAndVerify(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes"), []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal"), []byte("{}"), 0o644))

	files, err := w.Seal()
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.NoError(t, Verify(dir))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes"), []byte("payload"), 0o644))
	_, err = w.Seal()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes"), []byte("tampered"), 0o644))
	err = Verify(dir)
	require.Error(t, err)
	assert.Equal(t, errdef.KindCorrupted, errdef.Kind(err))
}

func TestVerifyMissingManifest(t *testing.T) {
	dir := t.TempDir()
	err := Verify(dir)
	require.Error(t, err)
	assert.Equal(t, errdef.KindCorrupted, errdef.Kind(err))
}

func TestSecondWriterConflicts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Abort()

	_, err = NewWriter(dir)
	require.Error(t, err)
	assert.Equal(t, errdef.KindConflict, errdef.Kind(err))
}

func TestAbortRemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "half"), []byte("x"), 0o644))
	require.NoError(t, w.Abort())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestListFilesExcluding(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes"), []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hnsw"), []byte("graph"), 0o644))
	sealed, err := w.Seal()
	require.NoError(t, err)

	known := map[string]uint64{}
	for _, f := range sealed {
		if f.Name == "hnsw" {
			known[f.Name] = f.Sum
		}
	}
	missing, err := ListFiles(dir, known)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "nodes", missing[0].Name)
}
