// Package s3store implements store.Store on Amazon S3 (or any S3-compatible
// endpoint) with aws-sdk-go-v2.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/scantag/internal/awscfg"
	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/pkg/object"
)

// S3API defines the S3 operations used by the store.
type S3API interface {
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds connection settings.
type Config struct {
	Region    string
	Profile   string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Store implements store.Store on S3.
type Store struct {
	client S3API
}

var _ store.Store = (*Store)(nil)

// New builds an S3 client from the default credential chain and cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awscfg.Load(ctx, awscfg.Options{
		Region:    cfg.Region,
		Profile:   cfg.Profile,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, fault.New(fault.Configuration, "s3 store", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client S3API) *Store {
	return &Store{client: client}
}

// GetTags implements store.Store.
func (s *Store) GetTags(ctx context.Context, loc object.Location) (object.TagSet, error) {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(loc.Store),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, classify("get tags "+loc.String(), err)
	}

	tags := make(object.TagSet, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

// PutTags implements store.Store. Keys are written in sorted order.
func (s *Store) PutTags(ctx context.Context, loc object.Location, tags object.TagSet) error {
	set := make([]types.Tag, 0, len(tags))
	for _, k := range tags.Keys() {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(loc.Store),
		Key:     aws.String(loc.Key),
		Tagging: &types.Tagging{TagSet: set},
	})
	if err != nil {
		return classify("put tags "+loc.String(), err)
	}
	return nil
}

// CopyObject implements store.Store. S3 copies are synchronous and carry the
// source tags along.
func (s *Store) CopyObject(ctx context.Context, src, dst object.Location) (store.CopyHandle, error) {
	h := store.CopyHandle{Source: src, Destination: dst}

	out, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:           aws.String(dst.Store),
		Key:              aws.String(dst.Key),
		CopySource:       aws.String(copySource(src)),
		TaggingDirective: types.TaggingDirectiveCopy,
	})
	if err != nil {
		return h, classify("copy "+src.String(), err)
	}

	h.ID = src.String() + "->" + dst.String()
	if out.VersionId != nil {
		h.ID += "@" + aws.ToString(out.VersionId)
	}
	h.Status = store.CopySuccess
	return h, nil
}

func copySource(src object.Location) string {
	return url.PathEscape(src.Store + "/" + src.Key)
}

// PollCopyStatus implements store.Store.
func (s *Store) PollCopyStatus(_ context.Context, h store.CopyHandle) (store.CopyStatus, error) {
	return h.Status, nil
}

// DeleteObject implements store.Store.
func (s *Store) DeleteObject(ctx context.Context, loc object.Location) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(loc.Store),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return classify("delete "+loc.String(), err)
	}
	return nil
}

// GetObjectBytes implements store.Store.
func (s *Store) GetObjectBytes(ctx context.Context, loc object.Location) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Store),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, classify("get object "+loc.String(), err)
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fault.New(fault.Transient, "read object "+loc.String(), err)
	}
	return buf.Bytes(), nil
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, loc object.Location) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Store),
		Key:    aws.String(loc.Key),
	})
	if err == nil {
		return true, nil
	}
	cerr := classify("head "+loc.String(), err)
	if store.IsNotFound(cerr) {
		return false, nil
	}
	return false, cerr
}

var (
	notFoundCodes = codes("NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchVersion")
	deniedCodes   = codes("AccessDenied", "Forbidden", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch")
	transientCode = codes("SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
		"RequestTimeTooSkewed", "InternalError", "ServiceUnavailable", "OperationAborted")
)

func codes(cs ...string) map[string]bool {
	m := make(map[string]bool, len(cs))
	for _, c := range cs {
		m[c] = true
	}
	return m
}

type httpStatus interface {
	HTTPStatusCode() int
}

// classify maps an SDK error onto the fault taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.Transient, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case notFoundCodes[code]:
			return fault.New(fault.Permanent, op, fmt.Errorf("%w: %s", store.ErrNotFound, code))
		case deniedCodes[code]:
			return fault.New(fault.Permanent, op, fmt.Errorf("%w: %s", store.ErrAccessDenied, code))
		case transientCode[code]:
			return fault.New(fault.Transient, op, err)
		}
	}

	var hs httpStatus
	if errors.As(err, &hs) {
		switch status := hs.HTTPStatusCode(); {
		case status == 404:
			return fault.New(fault.Permanent, op, fmt.Errorf("%w: %v", store.ErrNotFound, err))
		case status == 403:
			return fault.New(fault.Permanent, op, fmt.Errorf("%w: %v", store.ErrAccessDenied, err))
		case status == 429 || status >= 500:
			return fault.New(fault.Transient, op, err)
		case status >= 400:
			return fault.New(fault.Permanent, op, err)
		}
	}

	return fault.New(fault.Transient, op, err)
}
