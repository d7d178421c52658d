package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archived points at an export kept in object storage.
type Archived struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ObjectStore keeps exports in an S3-compatible bucket under
// pages/<page id>/ and hands out presigned download links.
type ObjectStore struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

func NewObjectStore(endpoint, accessKey, secretKey, bucket string, useSSL bool, urlTTL time.Duration) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &ObjectStore{client: client, bucket: bucket, urlTTL: urlTTL}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (o *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := o.client.BucketExists(ctx, o.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", o.bucket, err)
	}
	if exists {
		return nil
	}
	if err := o.client.MakeBucket(ctx, o.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", o.bucket, err)
	}
	return nil
}

// Archive uploads res and returns a presigned GET link valid for the
// configured TTL.
func (o *ObjectStore) Archive(ctx context.Context, pageID string, res *Result) (Archived, error) {
	now := time.Now().UTC()
	key := objectKey(pageID, res.Filename, now)
	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(res.Data), int64(len(res.Data)), minio.PutObjectOptions{
		ContentType:        res.MimeType,
		ContentDisposition: contentDisposition(res.Filename),
	})
	if err != nil {
		return Archived{}, fmt.Errorf("upload export: %w", err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", contentDisposition(res.Filename))
	link, err := o.client.PresignedGetObject(ctx, o.bucket, key, o.urlTTL, params)
	if err != nil {
		return Archived{}, fmt.Errorf("presign export: %w", err)
	}
	return Archived{Key: key, URL: link.String(), ExpiresAt: now.Add(o.urlTTL)}, nil
}

// RemovePage deletes every archived export of a page.
func (o *ObjectStore) RemovePage(ctx context.Context, pageID string) error {
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{
		Prefix:    pagePrefix(pageID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list exports: %w", obj.Err)
		}
		if err := o.client.RemoveObject(ctx, o.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove export %s: %w", obj.Key, err)
		}
	}
	return nil
}

func pagePrefix(pageID string) string {
	return "pages/" + pageID + "/"
}

func objectKey(pageID, filename string, at time.Time) string {
	return path.Join(pagePrefix(pageID), at.Format("20060102T150405.000Z"), filename)
}

func contentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
