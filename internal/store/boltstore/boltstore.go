// Package boltstore is a Store backed by a local bbolt file. Each store
// (bucket/container) maps to a top-level bbolt bucket holding two nested
// buckets: object bodies and JSON-encoded tag sets.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/pkg/object"
)

var (
	bucketBodies = []byte("bodies")
	bucketTags   = []byte("tags")
)

// Store implements store.Store on bbolt.
type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file scantag.db in dir.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, "scantag.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes an object body and tags, creating its store bucket if needed.
func (s *Store) Put(loc object.Location, body []byte, tags object.TagSet) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bodies, tagsB, err := createBuckets(tx, loc.Store)
		if err != nil {
			return err
		}
		return writeObject(bodies, tagsB, loc.Key, body, tags)
	})
}

func createBuckets(tx *bbolt.Tx, name string) (*bbolt.Bucket, *bbolt.Bucket, error) {
	root, err := tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	bodies, err := root.CreateBucketIfNotExists(bucketBodies)
	if err != nil {
		return nil, nil, err
	}
	tags, err := root.CreateBucketIfNotExists(bucketTags)
	if err != nil {
		return nil, nil, err
	}
	return bodies, tags, nil
}

func openBuckets(tx *bbolt.Tx, name string) (*bbolt.Bucket, *bbolt.Bucket) {
	root := tx.Bucket([]byte(name))
	if root == nil {
		return nil, nil
	}
	return root.Bucket(bucketBodies), root.Bucket(bucketTags)
}

func writeObject(bodies, tagsB *bbolt.Bucket, key string, body []byte, tags object.TagSet) error {
	if body == nil {
		body = []byte{}
	}
	if err := bodies.Put([]byte(key), body); err != nil {
		return err
	}
	return writeTags(tagsB, key, tags)
}

func writeTags(tagsB *bbolt.Bucket, key string, tags object.TagSet) error {
	if tags == nil {
		tags = object.TagSet{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	return tagsB.Put([]byte(key), data)
}

func readTags(tagsB *bbolt.Bucket, key string) (object.TagSet, error) {
	tags := object.TagSet{}
	data := tagsB.Get([]byte(key))
	if len(data) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

// present uses the tags bucket as the existence marker: every object has a
// tag entry, even an empty one, while bodies may be zero length.
func present(tagsB *bbolt.Bucket, key string) bool {
	return tagsB != nil && tagsB.Get([]byte(key)) != nil
}

func notFound(op string, loc object.Location) error {
	return fault.New(fault.Permanent, fmt.Sprintf("%s %s", op, loc), store.ErrNotFound)
}

// GetTags implements store.Store.
func (s *Store) GetTags(_ context.Context, loc object.Location) (object.TagSet, error) {
	var tags object.TagSet
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, tagsB := openBuckets(tx, loc.Store)
		if !present(tagsB, loc.Key) {
			return notFound("get tags", loc)
		}
		var err error
		tags, err = readTags(tagsB, loc.Key)
		return err
	})
	return tags, err
}

// PutTags implements store.Store.
func (s *Store) PutTags(_ context.Context, loc object.Location, tags object.TagSet) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, tagsB := openBuckets(tx, loc.Store)
		if !present(tagsB, loc.Key) {
			return notFound("put tags", loc)
		}
		return writeTags(tagsB, loc.Key, tags)
	})
}

// CopyObject implements store.Store. Copies complete inside one transaction.
func (s *Store) CopyObject(_ context.Context, src, dst object.Location) (store.CopyHandle, error) {
	h := store.CopyHandle{ID: src.String() + "->" + dst.String(), Source: src, Destination: dst}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		srcBodies, srcTags := openBuckets(tx, src.Store)
		if !present(srcTags, src.Key) {
			return notFound("copy", src)
		}
		// bbolt memory is only valid inside the transaction.
		body := append([]byte(nil), srcBodies.Get([]byte(src.Key))...)
		tags, err := readTags(srcTags, src.Key)
		if err != nil {
			return err
		}

		dstBodies, dstTags, err := createBuckets(tx, dst.Store)
		if err != nil {
			return err
		}
		return writeObject(dstBodies, dstTags, dst.Key, body, tags)
	})
	if err != nil {
		return h, err
	}

	h.Status = store.CopySuccess
	return h, nil
}

// PollCopyStatus implements store.Store.
func (s *Store) PollCopyStatus(_ context.Context, h store.CopyHandle) (store.CopyStatus, error) {
	return h.Status, nil
}

// DeleteObject implements store.Store.
func (s *Store) DeleteObject(_ context.Context, loc object.Location) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bodies, tagsB := openBuckets(tx, loc.Store)
		if !present(tagsB, loc.Key) {
			return notFound("delete", loc)
		}
		if err := bodies.Delete([]byte(loc.Key)); err != nil {
			return err
		}
		return tagsB.Delete([]byte(loc.Key))
	})
}

// GetObjectBytes implements store.Store.
func (s *Store) GetObjectBytes(_ context.Context, loc object.Location) ([]byte, error) {
	var body []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bodies, tagsB := openBuckets(tx, loc.Store)
		if !present(tagsB, loc.Key) {
			return notFound("get object", loc)
		}
		body = append([]byte{}, bodies.Get([]byte(loc.Key))...)
		return nil
	})
	return body, err
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, loc object.Location) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, tagsB := openBuckets(tx, loc.Store)
		found = present(tagsB, loc.Key)
		return nil
	})
	return found, err
}
