// Package memstore is an in-memory Store, ordered by location, with optional
// simulated asynchronous copies. It backs tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/pkg/object"
)

type entry struct {
	loc  object.Location
	body []byte
	tags object.TagSet
}

func less(a, b *entry) bool {
	if a.loc.Store != b.loc.Store {
		return a.loc.Store < b.loc.Store
	}
	return a.loc.Key < b.loc.Key
}

type pendingCopy struct {
	handle    store.CopyHandle
	remaining int
	fail      bool
}

// Call records one store operation.
type Call struct {
	Op  string
	Loc object.Location
}

// Options tune the simulated backend.
type Options struct {
	// CopyPolls is how many PollCopyStatus calls report pending before a copy
	// finishes. Zero means copies complete synchronously.
	CopyPolls int
	// FailCopies makes every copy end in the failed state.
	FailCopies bool
}

// Store is an in-memory object store.
type Store struct {
	mu      sync.Mutex
	objects *btree.BTreeG[*entry]
	copies  map[string]*pendingCopy
	opts    Options
	nextID  int
	calls   []Call
	failOn  map[string]error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New(opts Options) *Store {
	return &Store{
		objects: btree.NewG[*entry](16, less),
		copies:  make(map[string]*pendingCopy),
		opts:    opts,
		failOn:  make(map[string]error),
	}
}

// Put seeds an object.
func (s *Store) Put(loc object.Location, body []byte, tags object.TagSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects.ReplaceOrInsert(&entry{loc: loc, body: append([]byte(nil), body...), tags: tags.Clone()})
}

// FailOn makes every later call of op return err. A nil err clears it.
// Ops: get_tags, put_tags, copy, poll, delete, get_bytes, exists.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// Calls returns the operations issued so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts calls of op against loc.
func (s *Store) CallCount(op string, loc object.Location) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op && c.Loc == loc {
			n++
		}
	}
	return n
}

// Locations lists every stored object in order.
func (s *Store) Locations() []object.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []object.Location
	s.objects.Ascend(func(e *entry) bool {
		out = append(out, e.loc)
		return true
	})
	return out
}

// Tags returns a copy of the tags at loc without recording a call.
func (s *Store) Tags(loc object.Location) (object.TagSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects.Get(&entry{loc: loc})
	if !ok {
		return nil, false
	}
	return e.tags.Clone(), true
}

func (s *Store) begin(op string, loc object.Location) error {
	s.calls = append(s.calls, Call{Op: op, Loc: loc})
	if err, ok := s.failOn[op]; ok {
		return err
	}
	return nil
}

func (s *Store) lookup(op string, loc object.Location) (*entry, error) {
	e, ok := s.objects.Get(&entry{loc: loc})
	if !ok {
		return nil, fault.New(fault.Permanent, fmt.Sprintf("%s %s", op, loc), store.ErrNotFound)
	}
	return e, nil
}

// GetTags implements store.Store.
func (s *Store) GetTags(_ context.Context, loc object.Location) (object.TagSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("get_tags", loc); err != nil {
		return nil, err
	}
	e, err := s.lookup("get tags", loc)
	if err != nil {
		return nil, err
	}
	return e.tags.Clone(), nil
}

// PutTags implements store.Store.
func (s *Store) PutTags(_ context.Context, loc object.Location, tags object.TagSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("put_tags", loc); err != nil {
		return err
	}
	e, err := s.lookup("put tags", loc)
	if err != nil {
		return err
	}
	e.tags = tags.Clone()
	return nil
}

// CopyObject implements store.Store. The destination receives the source
// body and a copy of its tags.
func (s *Store) CopyObject(_ context.Context, src, dst object.Location) (store.CopyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("copy", src); err != nil {
		return store.CopyHandle{}, err
	}
	if _, err := s.lookup("copy", src); err != nil {
		return store.CopyHandle{}, err
	}

	s.nextID++
	h := store.CopyHandle{
		ID:          fmt.Sprintf("copy-%d", s.nextID),
		Source:      src,
		Destination: dst,
		Status:      store.CopyPending,
	}

	if s.opts.CopyPolls <= 0 {
		if s.opts.FailCopies {
			h.Status = store.CopyFailed
			return h, nil
		}
		s.finishCopy(src, dst)
		h.Status = store.CopySuccess
		return h, nil
	}

	s.copies[h.ID] = &pendingCopy{handle: h, remaining: s.opts.CopyPolls, fail: s.opts.FailCopies}
	return h, nil
}

func (s *Store) finishCopy(src, dst object.Location) {
	e, ok := s.objects.Get(&entry{loc: src})
	if !ok {
		return
	}
	s.objects.ReplaceOrInsert(&entry{loc: dst, body: append([]byte(nil), e.body...), tags: e.tags.Clone()})
}

// PollCopyStatus implements store.Store.
func (s *Store) PollCopyStatus(_ context.Context, h store.CopyHandle) (store.CopyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("poll", h.Destination); err != nil {
		return store.CopyPending, err
	}
	if h.Done() {
		return h.Status, nil
	}

	pc, ok := s.copies[h.ID]
	if !ok {
		return store.CopyFailed, fault.Errorf(fault.Permanent, "poll copy", "unknown copy %s", h.ID)
	}

	pc.remaining--
	if pc.remaining > 0 {
		return store.CopyPending, nil
	}

	delete(s.copies, h.ID)
	if pc.fail {
		return store.CopyFailed, nil
	}
	s.finishCopy(pc.handle.Source, pc.handle.Destination)
	return store.CopySuccess, nil
}

// DeleteObject implements store.Store.
func (s *Store) DeleteObject(_ context.Context, loc object.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete", loc); err != nil {
		return err
	}
	if _, err := s.lookup("delete", loc); err != nil {
		return err
	}
	s.objects.Delete(&entry{loc: loc})
	return nil
}

// GetObjectBytes implements store.Store.
func (s *Store) GetObjectBytes(_ context.Context, loc object.Location) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("get_bytes", loc); err != nil {
		return nil, err
	}
	e, err := s.lookup("get object", loc)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.body...), nil
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, loc object.Location) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("exists", loc); err != nil {
		return false, err
	}
	return s.objects.Has(&entry{loc: loc}), nil
}
