package docyard

// both_keystore.go implements the logical key store that federates a live
// store and a dead (tombstone) store under one name and one sequence
// allocator, merging the two into a single sorted stream on enumeration.
//
// Invariant: a given key exists in at most one of the two sub-stores at
// any observable instant. A write that changes a key's liveness moves it
// between sub-stores atomically within the enclosing transaction.

import "bytes"

// BothKeyStore holds exclusive use of two physical key stores. Records
// whose flags carry FlagDeleted land in the dead store; everything else
// lands in the live store.
type BothKeyStore struct {
	live *sqliteKeyStore
	dead *sqliteKeyStore
}

func newBothKeyStore(live, dead *sqliteKeyStore) *BothKeyStore {
	dead.ShareSequencesWith(live)
	return &BothKeyStore{live: live, dead: dead}
}

// Name implements KeyStore.
func (b *BothKeyStore) Name() string { return b.live.Name() }

// LiveStore exposes the live sub-store, for callers that must bypass
// tombstone routing (such as the query engine, which only sees live
// documents).
func (b *BothKeyStore) LiveStore() KeyStore { return b.live }

// DeadStore exposes the tombstone sub-store.
func (b *BothKeyStore) DeadStore() KeyStore { return b.dead }

// Get implements KeyStore: the live store wins, then the dead store.
func (b *BothKeyStore) Get(key []byte, content ContentOption) (*Record, error) {
	rec, err := b.live.Get(key, content)
	if rec != nil || err != nil {
		return rec, err
	}
	return b.dead.Get(key, content)
}

// RecordCount implements KeyStore. Counting the live store with
// includeDeleted=true is fine: it holds no tombstones anyway, and the
// unfiltered count is cheaper.
func (b *BothKeyStore) RecordCount(includeDeleted bool) (uint64, error) {
	count, err := b.live.RecordCount(true)
	if err != nil {
		return 0, err
	}
	if includeDeleted {
		dead, err := b.dead.RecordCount(true)
		if err != nil {
			return 0, err
		}
		count += dead
	}
	return count, nil
}

// LastSequence implements KeyStore. The two sub-stores share one
// allocator, so either one answers.
func (b *BothKeyStore) LastSequence() (uint64, error) { return b.live.LastSequence() }

// Set implements KeyStore. The record lands in the sub-store matching its
// Deleted flag; the other sub-store is cleaned up so the key never exists
// in both.
func (b *BothKeyStore) Set(key, version, body []byte, flags Flags, t *Transaction, opts *SetOptions) (uint64, error) {
	target, other := b.live, b.dead
	if flags.Deleted() {
		target, other = b.dead, b.live
	}

	if opts == nil {
		// Overwrite: just set, and delete from the other store to restore
		// the at-most-one invariant.
		seq, err := target.Set(key, version, body, flags, t, nil)
		if err != nil {
			return 0, err
		}
		if seq > 0 {
			if _, err := other.Del(key, t, 0); err != nil {
				return 0, err
			}
		}
		return seq, nil
	}

	if opts.ReplacingSequence == 0 {
		// Insert-only must fail if the doc exists at all, so check the
		// other store too.
		rec, err := other.Get(key, MetaOnly)
		if err != nil {
			return 0, err
		}
		if rec.Exists() {
			return 0, nil
		}
	}

	seq, err := target.Set(key, version, body, flags, t, opts)
	if err != nil {
		return 0, err
	}
	if seq == 0 && opts.ReplacingSequence > 0 && opts.NewSequence {
		// Conflict — but the record may have crossed liveness since the
		// caller's snapshot and now live in the other store. If a CAS
		// delete over there succeeds, complete the move.
		ok, err := other.Del(key, t, opts.ReplacingSequence)
		if err != nil {
			return 0, err
		}
		if ok {
			return target.Set(key, version, body, flags, t, nil)
		}
	}
	return seq, nil
}

// Del implements KeyStore: tries the live store first, then the dead one.
func (b *BothKeyStore) Del(key []byte, t *Transaction, ifSeq uint64) (bool, error) {
	ok, err := b.live.Del(key, t, ifSeq)
	if ok || err != nil {
		return ok, err
	}
	return b.dead.Del(key, t, ifSeq)
}

// WithDocBodies implements KeyStore: ask the live store, then re-ask the
// dead store for the misses only, splicing results back in input order.
func (b *BothKeyStore) WithDocBodies(keys [][]byte, callback WithDocBodyCallback) ([][]byte, error) {
	result, err := b.live.WithDocBodies(keys, callback)
	if err != nil {
		return nil, err
	}

	var recheck [][]byte
	var recheckIndexes []int
	for i, body := range result {
		if body == nil {
			recheck = append(recheck, keys[i])
			recheckIndexes = append(recheckIndexes, i)
		}
	}
	if len(recheck) > 0 {
		dead, err := b.dead.WithDocBodies(recheck, callback)
		if err != nil {
			return nil, err
		}
		for i, body := range dead {
			if body != nil {
				result[recheckIndexes[i]] = body
			}
		}
	}
	return result, nil
}

// NextExpiration implements KeyStore: the earliest of the two sub-stores'
// expirations, where 0 means "none".
func (b *BothKeyStore) NextExpiration() (uint64, error) {
	lx, err := b.live.NextExpiration()
	if err != nil {
		return 0, err
	}
	dx, err := b.dead.NextExpiration()
	if err != nil {
		return 0, err
	}
	if lx > 0 && dx > 0 {
		return min(lx, dx), nil
	}
	return max(lx, dx), nil
}

// SetExpiration implements KeyStore.
func (b *BothKeyStore) SetExpiration(key []byte, when uint64, t *Transaction) (bool, error) {
	ok, err := b.live.SetExpiration(key, when, t)
	if ok || err != nil {
		return ok, err
	}
	return b.dead.SetExpiration(key, when, t)
}

// ExpireRecords implements KeyStore.
func (b *BothKeyStore) ExpireRecords(t *Transaction) (uint64, error) {
	n, err := b.live.ExpireRecords(t)
	if err != nil {
		return 0, err
	}
	m, err := b.dead.ExpireRecords(t)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

// ShareSequencesWith implements KeyStore. The federation wires its own
// sub-stores at construction; sharing with a third store is not meaningful.
func (b *BothKeyStore) ShareSequencesWith(other KeyStore) {
	panic("docyard: BothKeyStore already shares sequences between its sub-stores")
}

// CreateIndex implements KeyStore. Indexes serve queries, which only see
// live documents, so they attach to the live store.
func (b *BothKeyStore) CreateIndex(name string, kind IndexKind, expressions []string, t *Transaction) error {
	return b.live.CreateIndex(name, kind, expressions, t)
}

// DeleteIndex implements KeyStore.
func (b *BothKeyStore) DeleteIndex(name string, t *Transaction) error {
	return b.live.DeleteIndex(name, t)
}

// IndexNames implements KeyStore.
func (b *BothKeyStore) IndexNames() ([]string, error) { return b.live.IndexNames() }

// NewEnumerator implements KeyStore.
func (b *BothKeyStore) NewEnumerator(bySequence bool, since uint64, opts EnumeratorOptions) (*RecordEnumerator, error) {
	impl, err := b.newEnumeratorImpl(bySequence, since, opts)
	if err != nil {
		return nil, err
	}
	return &RecordEnumerator{impl: impl}, nil
}

func (b *BothKeyStore) newEnumeratorImpl(bySequence bool, since uint64, opts EnumeratorOptions) (enumImpl, error) {
	if !opts.IncludeDeleted {
		// Only live docs wanted: the live store's native enumerator will
		// do. It holds no tombstones, so skip its deleted-filtering.
		opts.IncludeDeleted = true
		return b.live.newEnumeratorImpl(bySequence, since, opts)
	}
	if opts.Sort == Unsorted {
		opts.Sort = Ascending // merging needs an order
	}
	live, err := b.live.newEnumeratorImpl(bySequence, since, opts)
	if err != nil {
		return nil, err
	}
	dead, err := b.dead.newEnumeratorImpl(bySequence, since, opts)
	if err != nil {
		live.close()
		return nil, err
	}
	return &bothEnumImpl{
		live:       live,
		dead:       dead,
		bySequence: bySequence,
		descending: opts.Sort == Descending,
	}, nil
}

// bothEnumImpl enumerates both sub-stores in parallel, always yielding the
// lowest-sorting record — a two-way merge sort.
type bothEnumImpl struct {
	live, dead enumImpl // nil once exhausted
	current    enumImpl // child with the lowest key/sequence
	cmp        int      // last comparison of live to dead
	bySequence bool
	descending bool
}

func (e *bothEnumImpl) next() (bool, error) {
	// Advance the child with the lowest entry, or both if they were equal.
	if e.cmp <= 0 && e.live != nil {
		ok, err := e.live.next()
		if err != nil {
			return false, err
		}
		if !ok {
			e.live.close()
			e.live = nil
		}
	}
	if e.cmp >= 0 && e.dead != nil {
		ok, err := e.dead.next()
		if err != nil {
			return false, err
		}
		if !ok {
			e.dead.close()
			e.dead = nil
		}
	}

	// Compare the children's keys or sequences; an exhausted child
	// compares larger. The descending negation only applies while both
	// children are running — once one exhausts, the survivor must keep
	// winning the comparison.
	switch {
	case e.live != nil && e.dead != nil:
		if e.bySequence {
			e.cmp = compareSequences(e.live.sequence(), e.dead.sequence())
		} else {
			e.cmp = bytes.Compare(e.live.key(), e.dead.key())
		}
		if e.descending {
			e.cmp = -e.cmp
		}
	case e.live != nil:
		e.cmp = -1
	case e.dead != nil:
		e.cmp = 1
	default:
		e.cmp = 0
		e.current = nil
		return false, nil
	}

	// Pick the child with the lowest entry to be current. On a tie the
	// live one wins: live records take precedence over a dead sibling.
	if e.cmp <= 0 {
		e.current = e.live
	} else {
		e.current = e.dead
	}
	return true, nil
}

func compareSequences(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (e *bothEnumImpl) key() []byte {
	if e.current == nil {
		return nil
	}
	return e.current.key()
}

func (e *bothEnumImpl) sequence() uint64 {
	if e.current == nil {
		return 0
	}
	return e.current.sequence()
}

func (e *bothEnumImpl) read(r *Record) error {
	if e.current == nil {
		return ErrNotFound
	}
	return e.current.read(r)
}

func (e *bothEnumImpl) close() error {
	var err error
	if e.live != nil {
		err = e.live.close()
		e.live = nil
	}
	if e.dead != nil {
		if cerr := e.dead.close(); err == nil {
			err = cerr
		}
		e.dead = nil
	}
	e.current = nil
	return err
}
