package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// Bucket is used for keys without an s3://bucket prefix.
	Bucket string
	UseSSL bool
}

// S3Store keeps artifacts in an S3 compatible object store. Keys are either
// "s3://bucket/object" or bare paths inside the default bucket.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string

	mu          sync.Mutex
	bucketReady bool
	makeBucket  func(ctx context.Context) error
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	s := &S3Store{
		client:     client,
		bucketName: strings.TrimSpace(cfg.Bucket),
		region:     region,
	}
	s.makeBucket = s.createDefaultBucket
	return s, nil
}

// ensureBucket creates the default bucket on first write. Buckets named in
// keys are expected to exist. Only success is remembered, so a transient
// failure is retried by the next write.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	if err := s.makeBucket(ctx); err != nil {
		return err
	}
	s.bucketReady = true
	return nil
}

func (s *S3Store) createDefaultBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
}

func (s *S3Store) locate(key string) (string, string, error) {
	bucket, object, err := SplitBucket(key)
	if err != nil {
		return "", "", err
	}
	if object == "" || object == "." {
		return "", "", fmt.Errorf("invalid key %q: empty object path", key)
	}
	if bucket == "" {
		if s.bucketName == "" {
			return "", "", fmt.Errorf("key %q has no bucket and no default bucket is configured", key)
		}
		bucket = s.bucketName
	}
	return bucket, object, nil
}

func (s *S3Store) Put(ctx context.Context, key string, content []byte, overwrite bool) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	bucket, object, err := s.locate(key)
	if err != nil {
		return err
	}
	if bucket == s.bucketName {
		if err := s.ensureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
	}
	if !overwrite {
		// Not atomic: a concurrent writer can still win between Stat and Put.
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("put %s: %w", key, ErrConflict)
		}
	}
	if content == nil {
		content = []byte{}
	}
	_, err = s.client.PutObject(ctx, bucket, object, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentTypeFor(object),
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	bucket, object, err := s.locate(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Error(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateS3Error(key, err)
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("store is nil")
	}
	bucket, object, err := s.locate(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	bucket, object, err := s.locate(prefix)
	if err != nil {
		return nil, err
	}
	explicit := strings.HasPrefix(strings.TrimSpace(prefix), s3Scheme)
	listPrefix := strings.TrimSuffix(object, "/") + "/"
	keys := make([]string, 0, 32)
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		if explicit {
			keys = append(keys, s3Scheme+bucket+"/"+obj.Key)
		} else {
			keys = append(keys, "/"+obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func translateS3Error(key string, err error) error {
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NoSuchBucket" {
		return fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return err
}

func contentTypeFor(object string) string {
	switch {
	case strings.HasSuffix(object, ".geojson"):
		return "application/geo+json"
	case strings.HasSuffix(object, ".json"):
		return "application/json"
	case strings.HasSuffix(object, ".tif"), strings.HasSuffix(object, ".tiff"):
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
