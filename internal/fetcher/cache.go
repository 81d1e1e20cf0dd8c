package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Cache stores fetched tiles keyed by (region, timestamp) so re-running a
// window does not re-transfer band data.
type Cache interface {
	Get(ctx context.Context, region string, ts time.Time) (*types.Tile, bool, error)
	Put(ctx context.Context, tile *types.Tile) error
}

// NewCache builds a Cache from configuration. CacheNone returns nil, which
// the Fetcher treats as caching disabled.
func NewCache(cfg types.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case types.CacheNone, "":
		return nil, nil
	case types.CacheLocal:
		return NewLocalCache(cfg.Dir)
	case types.CacheS3:
		return NewS3Cache(cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

func cacheKey(region string, ts time.Time) string {
	return fmt.Sprintf("%s/%d.json", region, ts.UTC().Unix())
}

// LocalCache keeps tiles as JSON files under a directory.
type LocalCache struct {
	dir string
}

// NewLocalCache creates a filesystem tile cache rooted at dir.
func NewLocalCache(dir string) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &LocalCache{dir: dir}, nil
}

// Get returns the cached tile for (region, ts), if present.
func (c *LocalCache) Get(_ context.Context, region string, ts time.Time) (*types.Tile, bool, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, filepath.FromSlash(cacheKey(region, ts))))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached tile: %w", err)
	}
	var tile types.Tile
	if err := json.Unmarshal(data, &tile); err != nil {
		// A corrupt cache entry is a miss, not a failure.
		return nil, false, nil
	}
	return &tile, true, nil
}

// Put stores a tile. The write goes to a temp file first and is renamed
// into place, so an aborted fetch batch never leaves a partial tile behind.
func (c *LocalCache) Put(ctx context.Context, tile *types.Tile) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	path := filepath.Join(c.dir, filepath.FromSlash(cacheKey(tile.Region, tile.Timestamp)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache subdir: %w", err)
	}

	data, err := json.Marshal(tile)
	if err != nil {
		return fmt.Errorf("encoding tile: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing cache file: %w", err)
	}
	if ctx.Err() != nil {
		_ = os.Remove(tmp.Name())
		return ctx.Err()
	}
	return os.Rename(tmp.Name(), path)
}

// S3Cache keeps tiles in an S3 bucket.
type S3Cache struct {
	client S3API
	bucket string
	prefix string
}

// S3API is the subset of the S3 client used by S3Cache.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3CacheOption configures an S3Cache.
type S3CacheOption func(*S3Cache)

// WithS3Client sets a custom S3 client (useful for testing).
func WithS3Client(c S3API) S3CacheOption {
	return func(s *S3Cache) { s.client = c }
}

// NewS3Cache creates an S3-backed tile cache.
func NewS3Cache(bucket, prefix string, opts ...S3CacheOption) (*S3Cache, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	c := &S3Cache{
		bucket: bucket,
		prefix: strings.TrimRight(prefix, "/"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		c.client = s3.NewFromConfig(cfg)
	}
	return c, nil
}

func (c *S3Cache) objectKey(region string, ts time.Time) string {
	key := cacheKey(region, ts)
	if c.prefix == "" {
		return key
	}
	return c.prefix + "/" + key
}

// Get returns the cached tile for (region, ts), if present.
func (c *S3Cache) Get(ctx context.Context, region string, ts time.Time) (*types.Tile, bool, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(region, ts)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cached tile: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading cached tile body: %w", err)
	}
	var tile types.Tile
	if err := json.Unmarshal(data, &tile); err != nil {
		return nil, false, nil
	}
	return &tile, true, nil
}

// Put stores a tile. S3 object writes are atomic, so a cancelled upload
// never persists a partial tile; the context check keeps aborted batches
// from uploading at all.
func (c *S3Cache) Put(ctx context.Context, tile *types.Tile) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	data, err := json.Marshal(tile)
	if err != nil {
		return fmt.Errorf("encoding tile: %w", err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.objectKey(tile.Region, tile.Timestamp)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading cached tile: %w", err)
	}
	return nil
}
