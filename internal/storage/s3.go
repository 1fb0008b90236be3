package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API defines the subset of the S3 client used by S3Backend, enabling test
// mocking.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner generates time-limited GET URLs; satisfied by *s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures the remote backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty targets MinIO or another S3-compatible store
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string

	// CDNDomain, when set, makes every returned URL use the public front
	// door instead of a signed backend URL. The two are never mixed for the
	// same object: one is long-lived-public, the other time-limited-private.
	CDNDomain string

	CapacityBytes int64
	URLExpiry     time.Duration
}

// S3Backend implements Backend against an S3-compatible object store.
// Objects are namespaced {prefix}{streamKey}/{streamKey}_{timestamp}{ext},
// unlike the local backend's flat layout.
type S3Backend struct {
	client  S3API
	presign Presigner
	cfg     S3Config
}

// NewS3Backend creates an S3Backend from AWS defaults and the given config.
// When AccessKeyID and SecretAccessKey are both non-empty, static credentials
// are used instead of the default credential chain.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return NewS3BackendWithClient(ctx, client, s3.NewPresignClient(client), cfg)
}

// NewS3BackendWithClient creates an S3Backend with injected clients (for
// testing). The bucket reachability probe still runs: a misconfigured remote
// backend must fail at startup, not silently accept uploads that will fail
// later.
func NewS3BackendWithClient(ctx context.Context, client S3API, presign Presigner, cfg S3Config) (*S3Backend, error) {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %q not accessible: %w", cfg.Bucket, err)
	}
	return &S3Backend{client: client, presign: presign, cfg: cfg}, nil
}

func (b *S3Backend) objectKey(fileName string) string {
	return b.cfg.Prefix + streamKeyFromFileName(fileName) + "/" + fileName
}

// Save streams the capture into the object store, then removes the local temp
// file only after the remote write is acknowledged.
func (b *S3Backend) Save(ctx context.Context, tempPath, streamKey string, partial Metadata) Result {
	meta := partial
	meta.StreamKey = streamKey

	info, err := os.Stat(tempPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failure(meta, fmt.Errorf("%w: %s", ErrTempFileNotFound, tempPath))
		}
		return failure(meta, fmt.Errorf("stat temp file %s: %w", tempPath, err))
	}

	f, err := os.Open(tempPath)
	if err != nil {
		return failure(meta, fmt.Errorf("open temp file %s: %w", tempPath, err))
	}
	defer f.Close()

	now := time.Now()
	name := destFileName(streamKey, recordingExt(tempPath), now)
	key := b.objectKey(name)

	objMeta := map[string]string{
		"stream-key":    streamKey,
		"original-name": filepath.Base(tempPath),
		"upload-time":   now.UTC().Format(time.RFC3339),
		"file-size":     strconv.FormatInt(info.Size(), 10),
	}
	if partial.Quality != "" {
		objMeta["quality"] = partial.Quality
	}
	if partial.Duration > 0 {
		objMeta["duration"] = strconv.FormatFloat(partial.Duration, 'f', -1, 64)
	}
	if partial.ThumbnailPath != "" {
		objMeta["thumbnail"] = partial.ThumbnailPath
	}

	// Recordings are write-once and read rarely; infrequent-access with
	// server-side encryption fits that profile.
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(b.cfg.Bucket),
		Key:                  aws.String(key),
		Body:                 f,
		ContentLength:        aws.Int64(info.Size()),
		ContentType:          aws.String(contentTypeFor(name)),
		Metadata:             objMeta,
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		StorageClass:         types.StorageClassStandardIa,
	})
	if err != nil {
		return failure(meta, fmt.Errorf("upload recording to s3: %w", err))
	}

	if err := os.Remove(tempPath); err != nil {
		slog.Warn("failed to remove temp file after upload", "path", tempPath, "error", err)
	}

	meta.FileName = name
	meta.FileSize = info.Size()
	meta.UploadTime = now

	url, err := b.urlFor(ctx, key, b.cfg.URLExpiry)
	if err != nil {
		slog.Warn("failed to generate recording URL", "key", key, "error", err)
	}
	return Result{Success: true, FilePath: key, URL: url, Metadata: meta}
}

func (b *S3Backend) urlFor(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if b.cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimSuffix(b.cfg.CDNDomain, "/"), key), nil
	}
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// ResolveURL returns a URL for the named recording: the CDN front door when
// configured, otherwise a presigned URL valid for expiry (default one hour).
func (b *S3Backend) ResolveURL(ctx context.Context, fileName string, expiry time.Duration) (string, error) {
	key := b.objectKey(fileName)
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, fileName)
	}
	if expiry <= 0 {
		expiry = b.cfg.URLExpiry
	}
	return b.urlFor(ctx, key, expiry)
}

// Delete removes the named recording. The existence probe makes the absent
// case report false: DeleteObject alone succeeds silently on missing keys.
func (b *S3Backend) Delete(ctx context.Context, fileName string) bool {
	key := b.objectKey(fileName)
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		slog.Warn("failed to delete recording from s3", "key", key, "error", err)
		return false
	}
	return true
}

// List enumerates recordings newest first. A stream key filter narrows the
// listing to that key's namespace under the prefix.
func (b *S3Backend) List(ctx context.Context, streamKeyFilter string) []Metadata {
	listPrefix := b.cfg.Prefix
	if streamKeyFilter != "" {
		listPrefix += streamKeyFilter + "/"
	}

	var out []Metadata
	var token *string
	for {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			slog.Warn("failed to list recordings", "prefix", listPrefix, "error", err)
			return []Metadata{}
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			m := Metadata{
				StreamKey: streamKeyFromFileName(name),
				FileName:  name,
				FileSize:  aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				m.UploadTime = *obj.LastModified
			}
			out = append(out, m)
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.After(out[j].UploadTime) })
	if out == nil {
		out = []Metadata{}
	}
	return out
}

// Usage paginates through the entire prefix accumulating object sizes; the
// store may not return all objects in one page.
func (b *S3Backend) Usage(ctx context.Context) UsageInfo {
	var used int64
	var token *string
	for {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			slog.Warn("failed to compute storage usage", "prefix", b.cfg.Prefix, "error", err)
			return UsageInfo{}
		}
		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	available := b.cfg.CapacityBytes - used
	if available < 0 {
		available = 0
	}
	return UsageInfo{UsedBytes: used, AvailableBytes: available}
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".flv":
		return "video/x-flv"
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
