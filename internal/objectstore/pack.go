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
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/metrics"
)

// PackAndUpload tars and compresses a sealed segment directory into the
// object store under key. It returns the packed size in bytes.
func PackAndUpload(ctx context.Context, store ObjectStore, dir, key string) (int64, error) {
	pr, pw := io.Pipe()
	packed := &countingWriter{w: pw}

	go func() {
		pw.CloseWithError(packDir(dir, packed))
	}()

	if err := store.Put(ctx, key, pr, -1); err != nil {
		pr.CloseWithError(err)
		return 0, err
	}
	metrics.SegmentUploadBytes.Add(float64(packed.n))
	log.Debug("segment uploaded", zap.String("key", key), zap.Int64("bytes", packed.n))
	return packed.n, nil
}

// DownloadAndUnpack fetches a packed segment into dir, which must not exist.
func DownloadAndUnpack(ctx context.Context, store ObjectStore, key, dir string) error {
	body, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	counted := &countingReader{r: body}
	if err := unpackDir(counted, dir); err != nil {
		os.RemoveAll(dir)
		return err
	}
	metrics.SegmentDownloadBytes.Add(float64(counted.n))
	return nil
}

func packDir(dir string, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errdef.IO(err, "creating compressor")
	}
	tw := tar.NewWriter(zw)

	// Segment directories may nest (the embedded text engine keeps its own
	// store subdirectory), so walk instead of a flat listing.
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: filepath.ToSlash(rel),
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return errdef.IO(err, "packing segment dir %s", dir)
	}
	if err := tw.Close(); err != nil {
		return errdef.IO(err, "finishing archive")
	}
	return zw.Close()
}

func unpackDir(r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdef.IO(err, "creating %s", dir)
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return errdef.IO(err, "creating decompressor")
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errdef.IO(err, "reading archive")
		}
		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return errdef.Corrupted(nil, "archive escapes segment dir: %s", hdr.Name)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errdef.IO(err, "creating %s", filepath.Dir(path))
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return errdef.IO(err, "creating %s", name)
		}
		_, err = io.Copy(f, tr)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errdef.IO(err, "unpacking %s", name)
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
