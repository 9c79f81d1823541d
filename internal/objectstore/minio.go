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

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/errdef"
	"github.com/stratosearch/stratos/internal/log"
	"github.com/stratosearch/stratos/internal/util/paramtable"
	"github.com/stratosearch/stratos/internal/util/retry"
)

// MinioStore backs ObjectStore with a minio/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the configured endpoint and makes sure the bucket
// exists.
func NewMinioStore(ctx context.Context, params *paramtable.StorageParams) (*MinioStore, error) {
	client, err := minio.New(params.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params.AccessKey, params.SecretKey, ""),
		Secure: params.UseSSL,
	})
	if err != nil {
		return nil, errdef.IO(err, "connecting to object store %s", params.Endpoint)
	}

	store := &MinioStore{client: client, bucket: params.BucketName}
	err = retry.Do(ctx, func() error {
		exists, err := client.BucketExists(ctx, params.BucketName)
		if err != nil {
			return err
		}
		if !exists {
			return client.MakeBucket(ctx, params.BucketName, minio.MakeBucketOptions{})
		}
		return nil
	}, retry.Attempts(20))
	if err != nil {
		return nil, errdef.IO(err, "preparing bucket %s", params.BucketName)
	}
	log.Info("object store ready", zap.String("endpoint", params.Endpoint), zap.String("bucket", params.BucketName))
	return store, nil
}

var _ ObjectStore = (*MinioStore)(nil)

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{})
	if err != nil {
		return errdef.IO(err, "uploading %s", key)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errdef.IO(err, "downloading %s", key)
	}
	// GetObject is lazy; surface missing keys on first stat instead of read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, errdef.NotFound("object %s", key)
		}
		return nil, errdef.IO(err, "downloading %s", key)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return errdef.IO(err, "deleting %s", key)
	}
	return nil
}
