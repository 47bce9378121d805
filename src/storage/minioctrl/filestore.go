package minioctrl

import (
	"context"
)

// FileStore keeps uploaded PDFs in a single bucket, keyed by filename.
type FileStore struct {
	svc    *MinioService
	bucket string
}

// NewFileStore makes sure the bucket exists.
func NewFileStore(ctx context.Context, svc *MinioService, bucket string) (*FileStore, error) {
	if bucket == "" {
		bucket = DefaultPDFBucket
	}
	if err := svc.EnsureBucketExists(ctx, bucket); err != nil {
		return nil, err
	}
	return &FileStore{svc: svc, bucket: bucket}, nil
}

// Save returns the object location as bucket/name.
func (f *FileStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := f.svc.PutObject(ctx, f.bucket, name, data, "application/pdf"); err != nil {
		return "", err
	}
	return f.bucket + "/" + name, nil
}

func (f *FileStore) Load(ctx context.Context, name string) ([]byte, error) {
	return f.svc.GetObject(ctx, f.bucket, name)
}

func (f *FileStore) List(ctx context.Context) ([]string, error) {
	return f.svc.ListObjects(ctx, f.bucket)
}

func (f *FileStore) Ping(ctx context.Context) error {
	return f.svc.Ping(ctx, f.bucket)
}
