package boltstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/pkg/object"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetTags(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	loc := object.Location{Store: "docs", Key: "a.pdf"}

	require.NoError(t, s.Put(loc, []byte("pdf"), object.TagSet{"Owner": "me"}))

	tags, err := s.GetTags(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, object.TagSet{"Owner": "me"}, tags)

	require.NoError(t, s.PutTags(ctx, loc, object.TagSet{"fss-scanned": "true"}))
	tags, err = s.GetTags(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, object.TagSet{"fss-scanned": "true"}, tags)
}

func TestStore_EmptyBodyStillExists(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	loc := object.Location{Store: "docs", Key: "empty.txt"}

	require.NoError(t, s.Put(loc, nil, nil))

	exists, err := s.Exists(ctx, loc)
	require.NoError(t, err)
	assert.True(t, exists)

	body, err := s.GetObjectBytes(ctx, loc)
	require.NoError(t, err)
	assert.Empty(t, body)

	tags, err := s.GetTags(ctx, loc)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestStore_MissingObject(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	loc := object.Location{Store: "nope", Key: "x"}

	_, err := s.GetTags(ctx, loc)
	assert.True(t, store.IsNotFound(err))

	err = s.PutTags(ctx, loc, object.TagSet{})
	assert.True(t, store.IsNotFound(err))

	err = s.DeleteObject(ctx, loc)
	assert.True(t, store.IsNotFound(err))

	_, err = s.CopyObject(ctx, loc, object.Location{Store: "q", Key: "x"})
	assert.True(t, store.IsNotFound(err))

	exists, err := s.Exists(ctx, loc)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_CopyAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	src := object.Location{Store: "docs", Key: "a.pdf"}
	dst := object.Location{Store: "quarantine", Key: "docs/a.pdf"}
	require.NoError(t, s.Put(src, []byte("evil"), object.TagSet{"Owner": "me"}))

	h, err := s.CopyObject(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, store.CopySuccess, h.Status)

	st, err := s.PollCopyStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, store.CopySuccess, st)

	body, err := s.GetObjectBytes(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("evil"), body)

	tags, err := s.GetTags(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "me", tags["Owner"])

	require.NoError(t, s.DeleteObject(ctx, src))
	exists, err := s.Exists(ctx, src)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	loc := object.Location{Store: "docs", Key: "a.pdf"}

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(loc, []byte("x"), object.TagSet{"k": "v"}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	tags, err := s.GetTags(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, "v", tags["k"])
}
