package s3store

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/pkg/object"
)

// mockS3Client implements S3API for testing.
type mockS3Client struct {
	getObjectTaggingFunc func(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	putObjectTaggingFunc func(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	copyObjectFunc       func(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	deleteObjectFunc     func(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	getObjectFunc        func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	headObjectFunc       func(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func (m *mockS3Client) GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	if m.getObjectTaggingFunc != nil {
		return m.getObjectTaggingFunc(ctx, params, optFns...)
	}
	return &s3.GetObjectTaggingOutput{}, nil
}

func (m *mockS3Client) PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	if m.putObjectTaggingFunc != nil {
		return m.putObjectTaggingFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectTaggingOutput{}, nil
}

func (m *mockS3Client) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if m.copyObjectFunc != nil {
		return m.copyObjectFunc(ctx, params, optFns...)
	}
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteObjectFunc != nil {
		return m.deleteObjectFunc(ctx, params, optFns...)
	}
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, params, optFns...)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headObjectFunc != nil {
		return m.headObjectFunc(ctx, params, optFns...)
	}
	return &s3.HeadObjectOutput{}, nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "http error" }
func (e statusErr) HTTPStatusCode() int { return e.code }

var loc = object.Location{Store: "docs", Key: "reports/q1 final.pdf"}

func TestGetTags(t *testing.T) {
	mock := &mockS3Client{
		getObjectTaggingFunc: func(_ context.Context, in *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
			assert.Equal(t, "docs", aws.ToString(in.Bucket))
			assert.Equal(t, "reports/q1 final.pdf", aws.ToString(in.Key))
			return &s3.GetObjectTaggingOutput{TagSet: []types.Tag{
				{Key: aws.String("Owner"), Value: aws.String("me")},
				{Key: aws.String("fss-scanned"), Value: aws.String("true")},
			}}, nil
		},
	}

	tags, err := NewWithClient(mock).GetTags(context.Background(), loc)

	require.NoError(t, err)
	assert.Equal(t, object.TagSet{"Owner": "me", "fss-scanned": "true"}, tags)
}

func TestPutTags_SortedFullReplacement(t *testing.T) {
	var got []types.Tag
	mock := &mockS3Client{
		putObjectTaggingFunc: func(_ context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
			got = in.Tagging.TagSet
			return &s3.PutObjectTaggingOutput{}, nil
		},
	}

	err := NewWithClient(mock).PutTags(context.Background(), loc, object.TagSet{"b": "2", "a": "1", "c": "3"})

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", aws.ToString(got[0].Key))
	assert.Equal(t, "b", aws.ToString(got[1].Key))
	assert.Equal(t, "c", aws.ToString(got[2].Key))
	assert.Equal(t, "3", aws.ToString(got[2].Value))
}

func TestCopyObject(t *testing.T) {
	dst := object.Location{Store: "quarantine", Key: "docs/reports/q1 final.pdf"}
	mock := &mockS3Client{
		copyObjectFunc: func(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
			assert.Equal(t, "quarantine", aws.ToString(in.Bucket))
			assert.Equal(t, "docs/reports/q1 final.pdf", aws.ToString(in.Key))
			assert.Equal(t, "docs%2Freports%2Fq1%20final.pdf", aws.ToString(in.CopySource))
			assert.Equal(t, types.TaggingDirectiveCopy, in.TaggingDirective)
			return &s3.CopyObjectOutput{VersionId: aws.String("v2")}, nil
		},
	}
	s := NewWithClient(mock)

	h, err := s.CopyObject(context.Background(), loc, dst)
	require.NoError(t, err)
	assert.True(t, h.Done())
	assert.Contains(t, h.ID, "@v2")

	st, err := s.PollCopyStatus(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, store.CopySuccess, st)
}

func TestGetObjectBytes(t *testing.T) {
	mock := &mockS3Client{
		getObjectFunc: func(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("payload"))}, nil
		},
	}

	body, err := NewWithClient(mock).GetObjectBytes(context.Background(), loc)

	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)
}

func TestExists(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "present", err: nil, want: true},
		{name: "not found code", err: &smithy.GenericAPIError{Code: "NotFound"}, want: false},
		{name: "404 status", err: statusErr{code: 404}, want: false},
		{name: "denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockS3Client{
				headObjectFunc: func(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &s3.HeadObjectOutput{}, nil
				},
			}

			got, err := NewWithClient(mock).Exists(context.Background(), loc)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      fault.Kind
		notFound  bool
		denied    bool
		retryable bool
	}{
		{name: "no such key", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, kind: fault.Permanent, notFound: true},
		{name: "no such bucket", err: &smithy.GenericAPIError{Code: "NoSuchBucket"}, kind: fault.Permanent, notFound: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, kind: fault.Permanent, denied: true},
		{name: "slow down", err: &smithy.GenericAPIError{Code: "SlowDown"}, kind: fault.Transient, retryable: true},
		{name: "503", err: statusErr{code: 503}, kind: fault.Transient, retryable: true},
		{name: "429", err: statusErr{code: 429}, kind: fault.Transient, retryable: true},
		{name: "403", err: statusErr{code: 403}, kind: fault.Permanent, denied: true},
		{name: "400", err: statusErr{code: 400}, kind: fault.Permanent},
		{name: "deadline", err: context.DeadlineExceeded, kind: fault.Transient, retryable: true},
		{name: "network", err: errors.New("connection reset"), kind: fault.Transient, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)

			require.Error(t, err)
			assert.Equal(t, tt.kind, fault.KindOf(err))
			assert.Equal(t, tt.notFound, store.IsNotFound(err))
			assert.Equal(t, tt.denied, errors.Is(err, store.ErrAccessDenied))
			assert.Equal(t, tt.retryable, fault.Retryable(err))
		})
	}
}

func TestDeleteObject_NotFoundIsClassified(t *testing.T) {
	mock := &mockS3Client{
		deleteObjectFunc: func(_ context.Context, _ *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
		},
	}

	err := NewWithClient(mock).DeleteObject(context.Background(), loc)

	assert.True(t, store.IsNotFound(err))
}
