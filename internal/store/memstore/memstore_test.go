package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/pkg/object"
)

var (
	src = object.Location{Store: "docs", Key: "a.pdf"}
	dst = object.Location{Store: "quarantine", Key: "docs/a.pdf"}
)

func TestStore_TagsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.Put(src, []byte("body"), object.TagSet{"Owner": "me"})

	tags, err := s.GetTags(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, object.TagSet{"Owner": "me"}, tags)

	require.NoError(t, s.PutTags(ctx, src, object.TagSet{"fss-scanned": "true"}))
	tags, err = s.GetTags(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, object.TagSet{"fss-scanned": "true"}, tags)
}

func TestStore_ReturnsCopiesOfTags(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.Put(src, nil, object.TagSet{"a": "1"})

	tags, err := s.GetTags(ctx, src)
	require.NoError(t, err)
	tags["a"] = "mutated"

	again, _ := s.Tags(src)
	assert.Equal(t, "1", again["a"])
}

func TestStore_NotFound(t *testing.T) {
	_, err := New(Options{}).GetTags(context.Background(), src)

	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.True(t, fault.Is(err, fault.Permanent))
}

func TestStore_SyncCopy(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.Put(src, []byte("evil"), object.TagSet{"Owner": "me"})

	h, err := s.CopyObject(ctx, src, dst)
	require.NoError(t, err)
	assert.True(t, h.Done())
	assert.Equal(t, store.CopySuccess, h.Status)

	body, err := s.GetObjectBytes(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("evil"), body)

	tags, _ := s.Tags(dst)
	assert.Equal(t, "me", tags["Owner"])
}

func TestStore_AsyncCopy(t *testing.T) {
	ctx := context.Background()
	s := New(Options{CopyPolls: 3})
	s.Put(src, []byte("evil"), nil)

	h, err := s.CopyObject(ctx, src, dst)
	require.NoError(t, err)
	assert.False(t, h.Done())

	for i := 0; i < 2; i++ {
		st, err := s.PollCopyStatus(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, store.CopyPending, st)
	}
	exists, _ := s.Exists(ctx, dst)
	assert.False(t, exists)

	st, err := s.PollCopyStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, store.CopySuccess, st)

	exists, _ = s.Exists(ctx, dst)
	assert.True(t, exists)
}

func TestStore_FailedCopy(t *testing.T) {
	ctx := context.Background()
	s := New(Options{CopyPolls: 1, FailCopies: true})
	s.Put(src, nil, nil)

	h, err := s.CopyObject(ctx, src, dst)
	require.NoError(t, err)

	st, err := s.PollCopyStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, store.CopyFailed, st)

	exists, _ := s.Exists(ctx, dst)
	assert.False(t, exists)
}

func TestStore_DeleteAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.Put(object.Location{Store: "b", Key: "2"}, nil, nil)
	s.Put(object.Location{Store: "a", Key: "9"}, nil, nil)
	s.Put(object.Location{Store: "b", Key: "1"}, nil, nil)

	assert.Equal(t, []object.Location{
		{Store: "a", Key: "9"},
		{Store: "b", Key: "1"},
		{Store: "b", Key: "2"},
	}, s.Locations())

	require.NoError(t, s.DeleteObject(ctx, object.Location{Store: "b", Key: "1"}))
	assert.Len(t, s.Locations(), 2)

	err := s.DeleteObject(ctx, object.Location{Store: "b", Key: "1"})
	assert.True(t, store.IsNotFound(err))
}

func TestStore_FailOnAndCalls(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	s.Put(src, nil, nil)
	boom := errors.New("boom")

	s.FailOn("put_tags", boom)
	assert.ErrorIs(t, s.PutTags(ctx, src, object.TagSet{}), boom)

	s.FailOn("put_tags", nil)
	assert.NoError(t, s.PutTags(ctx, src, object.TagSet{}))

	assert.Equal(t, 2, s.CallCount("put_tags", src))
	assert.Equal(t, 0, s.CallCount("get_tags", src))
}
