package artifact

import (
	"fmt"
	"path"
	"strings"
)

const s3Scheme = "s3://"

// Join builds an artifact key from a prefix and path segments. A leading
// "s3://bucket" on the prefix is kept as is.
func Join(prefix string, elems ...string) string {
	prefix = strings.TrimSpace(prefix)
	scheme := ""
	if strings.HasPrefix(prefix, s3Scheme) {
		scheme = s3Scheme
		prefix = strings.TrimPrefix(prefix, s3Scheme)
	}
	parts := make([]string, 0, len(elems)+1)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	for _, e := range elems {
		e = strings.TrimSpace(e)
		if e != "" {
			parts = append(parts, e)
		}
	}
	joined := path.Join(parts...)
	if scheme != "" {
		return scheme + strings.TrimLeft(joined, "/")
	}
	return joined
}

// Base returns the last element of a key.
func Base(key string) string {
	return path.Base(strings.TrimPrefix(strings.TrimSpace(key), s3Scheme))
}

// SplitBucket splits "s3://bucket/object" into bucket and object key.
// Keys without the scheme return an empty bucket and the key with any
// leading slash removed. Relative keys that climb above their root are
// rejected.
func SplitBucket(key string) (bucket, object string, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("key is required")
	}
	if !strings.HasPrefix(key, s3Scheme) {
		object = strings.TrimLeft(path.Clean(key), "/")
		if object == ".." || strings.HasPrefix(object, "../") {
			return "", "", fmt.Errorf("invalid key %q: escapes its root", key)
		}
		return "", object, nil
	}
	rest := strings.TrimPrefix(key, s3Scheme)
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid key %q: missing bucket", key)
	}
	if bucket == "." || bucket == ".." || strings.Contains(bucket, `\`) {
		return "", "", fmt.Errorf("invalid key %q: bad bucket", key)
	}
	object = strings.TrimLeft(path.Clean("/"+object), "/")
	return bucket, object, nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	bucket, object, err := SplitBucket(key)
	if err != nil {
		return "", err
	}
	if object == "" || object == "." {
		return "", fmt.Errorf("invalid key %q: empty object path", key)
	}
	if bucket != "" {
		return s3Scheme + bucket + "/" + object, nil
	}
	return "/" + object, nil
}
