// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fawa-io/coverup/pkg/config"
	"github.com/fawa-io/coverup/pkg/fwlog"
)

// Bucket is the slice of an object store the ObjectStore needs.
// Get returns ErrNotFound for a missing key; Remove of a missing key
// succeeds.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
	// PresignPost returns a form upload URL and its fields. Uploads larger
	// than maxBytes are refused by the object store.
	PresignPost(ctx context.Context, key string, expires time.Duration, maxBytes int64) (string, map[string]string, error)
}

// MinioBucket stores objects in a single MinIO (or any S3 compatible)
// bucket.
type MinioBucket struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioBucket connects to MinIO and creates the bucket if it is missing.
func NewMinioBucket(ctx context.Context, cfg config.MinioConfig) (*MinioBucket, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint, credentials and bucket must be set")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		fwlog.Infof("Created MinIO bucket: %s", cfg.Bucket)
	}

	return &MinioBucket{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (b *MinioBucket) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (b *MinioBucket) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapErr(err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, b.mapErr(err)
	}
	return buf.Bytes(), nil
}

func (b *MinioBucket) Remove(ctx context.Context, key string) error {
	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if errors.Is(b.mapErr(err), ErrNotFound) {
		return nil
	}
	return err
}

// URL returns the public URL when the bucket is exposed, and a presigned
// GET URL valid for expires otherwise.
func (b *MinioBucket) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if b.publicURL != "" {
		return b.publicURL + "/" + url.PathEscape(key), nil
	}
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, expires, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (b *MinioBucket) PresignPost(ctx context.Context, key string, expires time.Duration, maxBytes int64) (string, map[string]string, error) {
	policy, err := uploadPolicy(b.bucket, key, time.Now().Add(expires), maxBytes)
	if err != nil {
		return "", nil, err
	}
	u, fields, err := b.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return "", nil, err
	}
	return u.String(), fields, nil
}

// uploadPolicy pins the upload to key and bounds its size to 1..maxBytes.
func uploadPolicy(bucket, key string, expires time.Time, maxBytes int64) (*minio.PostPolicy, error) {
	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(bucket); err != nil {
		return nil, err
	}
	if err := policy.SetKey(key); err != nil {
		return nil, err
	}
	if err := policy.SetExpires(expires); err != nil {
		return nil, err
	}
	if err := policy.SetContentLengthRange(1, maxBytes); err != nil {
		return nil, err
	}
	return policy, nil
}

func (b *MinioBucket) mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return ErrNotFound
	}
	return err
}
