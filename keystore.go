package docyard

// keystore.go defines the KeyStore contract implemented by the physical
// SQLite-backed store and by the logical live/dead federation.

// SetOptions selects MVCC semantics for KeyStore.Set.
//
// With a nil *SetOptions the write is an unconditional upsert. With
// ReplacingSequence == 0 the write succeeds only if no record exists yet.
// With ReplacingSequence > 0 the write succeeds only if the stored record
// still carries that sequence; when NewSequence is false the write keeps
// the replaced sequence instead of allocating a fresh one.
type SetOptions struct {
	ReplacingSequence uint64
	NewSequence       bool
}

// IndexKind selects the type of a key-store index.
type IndexKind int

const (
	// ValueIndex indexes a document property for equality and range tests.
	ValueIndex IndexKind = iota
	// FullTextIndex indexes a text property for MATCH queries.
	FullTextIndex
)

// WithDocBodyCallback transforms a found document body during a bulk read.
// It receives the record key and the decoded body and returns the bytes to
// surface for that key.
type WithDocBodyCallback func(key, body []byte) []byte

// KeyStore is a named collection of records keyed by document key.
//
// At most one record exists per key. Sequences assigned by a key store are
// unique within the file; the live and dead halves of a BothKeyStore share
// one allocator (ShareSequencesWith).
type KeyStore interface {
	// Name returns the store name.
	Name() string

	// Get reads the record stored under key, or (nil, nil) when absent.
	Get(key []byte, content ContentOption) (*Record, error)

	// Set writes a record and returns its sequence, or 0 on an MVCC
	// conflict (see SetOptions).
	Set(key, version, body []byte, flags Flags, t *Transaction, opts *SetOptions) (uint64, error)

	// Del removes the record under key. When ifSeq is nonzero the delete
	// only succeeds if the stored sequence matches (CAS delete). Returns
	// whether a record was removed.
	Del(key []byte, t *Transaction, ifSeq uint64) (bool, error)

	// RecordCount returns the number of records, optionally including
	// tombstones.
	RecordCount(includeDeleted bool) (uint64, error)

	// LastSequence returns the last sequence assigned by this store's
	// allocator.
	LastSequence() (uint64, error)

	// NextExpiration returns the earliest nonzero expiration timestamp of
	// any record, including timestamps that have already passed, or 0 when
	// no record has an expiration.
	NextExpiration() (uint64, error)

	// SetExpiration stamps the record under key with an expiration time
	// (0 clears it). Returns whether the record exists.
	SetExpiration(key []byte, when uint64, t *Transaction) (bool, error)

	// ExpireRecords purges records whose expiration has passed and returns
	// how many were removed.
	ExpireRecords(t *Transaction) (uint64, error)

	// NewEnumerator returns a cursor over the store. When bySequence is
	// true the cursor orders by sequence and starts after since; otherwise
	// it orders by key.
	NewEnumerator(bySequence bool, since uint64, opts EnumeratorOptions) (*RecordEnumerator, error)

	// WithDocBodies bulk-reads the bodies for keys, preserving input order.
	// Missing keys yield nil entries. The callback, if non-nil, is invoked
	// once per found body.
	WithDocBodies(keys [][]byte, callback WithDocBodyCallback) ([][]byte, error)

	// ShareSequencesWith makes this store allocate sequences from other's
	// allocator. Must be called once, before any write.
	ShareSequencesWith(other KeyStore)

	// CreateIndex creates a named value or full-text index over the given
	// property paths.
	CreateIndex(name string, kind IndexKind, expressions []string, t *Transaction) error

	// DeleteIndex removes a named index.
	DeleteIndex(name string, t *Transaction) error

	// IndexNames lists the store's indexes.
	IndexNames() ([]string, error)

	// newEnumeratorImpl builds the raw cursor behind NewEnumerator.
	newEnumeratorImpl(bySequence bool, since uint64, opts EnumeratorOptions) (enumImpl, error)
}
