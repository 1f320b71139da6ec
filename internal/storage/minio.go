package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/faceid/internal/config"
)

// ErrObjectNotFound is returned by ImageBucket.GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// maxSourceObject bounds how much of a stored source image is read back.
const maxSourceObject = 32 << 20

// ImageBucket keeps full enrollment source images in MinIO when the source
// ref mode is "object". Keys look like faces/<owner>/<uuid>.<ext>.
type ImageBucket struct {
	client *minio.Client
	bucket string
}

func NewImageBucket(cfg config.MinIOConfig) (*ImageBucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &ImageBucket{client: client, bucket: cfg.Bucket}, nil
}

// Prepare makes sure the configured bucket exists.
func (b *ImageBucket) Prepare(ctx context.Context) error {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if ok {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		// Another replica may have won the race.
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *ImageBucket) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put source image %s: %w", key, err)
	}
	return nil
}

// GetObject reads a source image back. A missing key yields ErrObjectNotFound.
func (b *ImageBucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get source image %s: %w", key, notFound(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxSourceObject))
	if err != nil {
		return nil, fmt.Errorf("read source image %s: %w", key, notFound(err))
	}
	return data, nil
}

func (b *ImageBucket) DeleteObject(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete source image %s: %w", key, err)
	}
	return nil
}

// OwnerPrefix is the key prefix under which an owner's source images live.
func OwnerPrefix(ownerID string) string {
	return "faces/" + ownerID + "/"
}

// PurgeOwner removes every source image of an owner and returns how many
// keys were submitted for removal. Listing feeds the bulk delete directly.
func (b *ImageBucket) PurgeOwner(ctx context.Context, ownerID string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type listed struct {
		n   int
		err error
	}
	keys := make(chan minio.ObjectInfo)
	done := make(chan listed, 1)

	go func() {
		defer close(keys)
		var res listed
		for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
			Prefix:    OwnerPrefix(ownerID),
			Recursive: true,
		}) {
			if obj.Err != nil {
				res.err = obj.Err
				break
			}
			select {
			case keys <- minio.ObjectInfo{Key: obj.Key}:
				res.n++
			case <-ctx.Done():
				res.err = ctx.Err()
				done <- res
				return
			}
		}
		done <- res
	}()

	var firstErr error
	for r := range b.client.RemoveObjects(ctx, b.bucket, keys, minio.RemoveObjectsOptions{}) {
		if r.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", r.ObjectName, r.Err)
			cancel()
		}
	}

	res := <-done
	if firstErr != nil {
		return 0, fmt.Errorf("purge owner %s: %w", ownerID, firstErr)
	}
	if res.err != nil {
		return 0, fmt.Errorf("list owner %s images: %w", ownerID, res.err)
	}
	return res.n, nil
}

func (b *ImageBucket) Ping(ctx context.Context) error {
	if _, err := b.client.BucketExists(ctx, b.bucket); err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound
	}
	return err
}
