package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/tablesrv/config"
)

// maxCollisions bounds the "n-" prefixes tried before giving up on a name.
const maxCollisions = 100

// sniffLen is enough of the content for filetype to recognise it.
const sniffLen = 261

// s3API is the part of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps file cell content in an S3 compatible bucket.
type S3Store struct {
	client    s3API
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
	expiry    time.Duration
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds a store from the blobstore config section. Static
// credentials are used when configured, the default AWS chain otherwise.
func NewS3Store(ctx context.Context, cfg config.BlobStoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, ErrBlobStore.MsgErr("failed to load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	expiry, err := cfg.GetPresignExpiry()
	if err != nil || expiry <= 0 {
		expiry = time.Hour
	}

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		expiry:    expiry,
	}, nil
}

func (s *S3Store) key(p string) string {
	if s.keyPrefix == "" {
		return p
	}
	return path.Join(s.keyPrefix, p)
}

// Store uploads u under name, or under the first free "n-" prefixed variant
// of it. Every put is conditional on the key being absent, so concurrent
// uploads of one name end up under different keys.
func (s *S3Store) Store(ctx context.Context, name string, u *Upload) (string, error) {
	if u == nil || u.Body == nil {
		return "", ErrUpload.Msg("empty upload")
	}
	content, err := io.ReadAll(u.Body)
	if err != nil {
		return "", ErrUpload.MsgErr("failed to read upload", err)
	}

	for n := 0; n < maxCollisions; n++ {
		p := CollisionName(name, n)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.key(p)),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
			ContentType:   aws.String(ContentType(p, content)),
			IfNoneMatch:   aws.String("*"),
		})
		if err == nil {
			return p, nil
		}
		if isKeyTaken(err) {
			continue
		}
		log.Ctx(ctx).Error().Err(err).Str("key", s.key(p)).Msg("failed to put object")
		return "", ErrUpload.Err(err)
	}
	return "", ErrUpload.Msg("too many objects named " + name)
}

// Resolve presigns a GET for p.
func (s *S3Store) Resolve(ctx context.Context, p string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", ErrResolve.Err(err)
	}
	return req.URL, nil
}

func (s *S3Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil && !isNotFound(err) {
		return ErrDelete.Err(err)
	}
	return nil
}

// isKeyTaken reports a conditional put that lost against an existing or
// concurrently written object.
func isKeyTaken(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// ContentType sniffs content, falling back to the name's extension and then
// to application/octet-stream.
func ContentType(name string, content []byte) string {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
