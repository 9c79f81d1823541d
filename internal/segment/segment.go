// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package segment owns the on-disk lifecycle shared by every index kind: a
// directory is exclusively held by its writer until sealed, immutable
// afterwards, and checksummed so corrupt artifacts are caught at open.
package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"

	"github.com/stratosearch/stratos/internal/errdef"
)

const (
	// ManifestFile lists every sealed file with its size and checksum.
	ManifestFile = "manifest"
	lockFile     = ".writer.lock"
)

// FileInfo describes one sealed segment file, for checksums and replication.
type FileInfo struct {
	Name string
	Size int64
	Sum  uint64
}

// Writer holds a segment directory exclusively until Seal or Abort.
type Writer struct {
	dir  string
	lock *flock.Flock
}

// NewWriter creates the segment directory and takes the writer lock. A second
// writer on the same directory fails with a Conflict.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdef.IO(err, "creating segment dir %s", dir)
	}
	lock := flock.New(filepath.Join(dir, lockFile))
	held, err := lock.TryLock()
	if err != nil {
		return nil, errdef.IO(err, "locking segment dir %s", dir)
	}
	if !held {
		return nil, errdef.Conflict("segment dir %s already has a writer", dir)
	}
	return &Writer{dir: dir, lock: lock}, nil
}

// Dir returns the directory being written.
func (w *Writer) Dir() string {
	return w.dir
}

// Seal checksums every file, writes the manifest and releases the lock. After
// Seal the directory layout is stable.
func (w *Writer) Seal() ([]FileInfo, error) {
	files, err := checksumDir(w.dir)
	if err != nil {
		return nil, err
	}
	if err := writeManifest(w.dir, files); err != nil {
		return nil, err
	}
	if err := w.release(); err != nil {
		return nil, err
	}
	return files, nil
}

// Abort removes the half-written directory. Failure to finish sealing must
// leave the segment invisible.
func (w *Writer) Abort() error {
	if err := w.release(); err != nil {
		return err
	}
	return os.RemoveAll(w.dir)
}

func (w *Writer) release() error {
	if w.lock == nil {
		return nil
	}
	err := w.lock.Unlock()
	w.lock = nil
	os.Remove(filepath.Join(w.dir, lockFile))
	if err != nil {
		return errdef.IO(err, "unlocking segment dir %s", w.dir)
	}
	return nil
}

// Verify re-checksums a sealed directory against its manifest.
func Verify(dir string) error {
	want, err := readManifest(dir)
	if err != nil {
		return err
	}
	got, err := checksumDir(dir)
	if err != nil {
		return err
	}
	byName := make(map[string]FileInfo, len(got))
	for _, f := range got {
		byName[f.Name] = f
	}
	for _, f := range want {
		actual, ok := byName[f.Name]
		if !ok {
			return errdef.Corrupted(fmt.Errorf("missing file %s", f.Name), "segment %s", dir)
		}
		if actual.Size != f.Size || actual.Sum != f.Sum {
			return errdef.Corrupted(fmt.Errorf("checksum mismatch on %s", f.Name), "segment %s", dir)
		}
	}
	return nil
}

// ListFiles returns the sealed files not present in excluding, so replication
// can stream only what a replica does not have yet.
func ListFiles(dir string, excluding map[string]uint64) ([]FileInfo, error) {
	files, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if sum, ok := excluding[f.Name]; ok && sum == f.Sum {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func checksumDir(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errdef.IO(err, "reading %s", dir)
	}
	var files []FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == ManifestFile || name == lockFile {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, errdef.IO(err, "opening %s", name)
		}
		h := xxhash.New()
		size, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return nil, errdef.IO(err, "hashing %s", name)
		}
		files = append(files, FileInfo{Name: name, Size: size, Sum: h.Sum64()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func writeManifest(dir string, files []FileInfo) error {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "%s %d %016x\n", f.Name, f.Size, f.Sum)
	}
	err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(sb.String()), 0o644)
	if err != nil {
		return errdef.IO(err, "writing manifest in %s", dir)
	}
	return nil
}

func readManifest(dir string) ([]FileInfo, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		return nil, errdef.Corrupted(err, "segment %s has no manifest", dir)
	}
	if err != nil {
		return nil, errdef.IO(err, "opening manifest in %s", dir)
	}
	defer f.Close()

	var files []FileInfo
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) != 3 {
			return nil, errdef.Corrupted(fmt.Errorf("bad manifest line %q", scanner.Text()), "segment %s", dir)
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, errdef.Corrupted(err, "segment %s", dir)
		}
		sum, err := strconv.ParseUint(parts[2], 16, 64)
		if err != nil {
			return nil, errdef.Corrupted(err, "segment %s", dir)
		}
		files = append(files, FileInfo{Name: parts[0], Size: size, Sum: sum})
	}
	if err := scanner.Err(); err != nil {
		return nil, errdef.IO(err, "reading manifest in %s", dir)
	}
	return files, nil
}
