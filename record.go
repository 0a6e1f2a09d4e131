package docyard

// record.go defines the Record data model shared by all key stores.

// Flags is the per-record flag bitset. The storage layer carries flags
// opaquely except for FlagDeleted, which BothKeyStore uses to route a record
// to the live or the dead sub-store. Physical stores only consult it to
// leave deleted records out of counts and enumerations that exclude them.
type Flags uint8

const (
	// FlagDeleted marks a tombstone.
	FlagDeleted Flags = 1 << iota
	// FlagConflicted marks a record with unresolved conflicting revisions.
	FlagConflicted
	// FlagHasAttachments marks a record whose body references attachments.
	FlagHasAttachments
)

// Deleted reports whether the Deleted flag is set.
func (f Flags) Deleted() bool { return f&FlagDeleted != 0 }

// ContentOption controls how much of a record a read populates.
type ContentOption int

const (
	// MetaOnly reads key, sequence, flags, version and expiration but not
	// the body.
	MetaOnly ContentOption = iota
	// WholeBody reads everything including the body.
	WholeBody
)

// Record is a single stored document: an opaque body plus metadata.
//
// Key is immutable and non-empty. Sequence is assigned by the owning key
// store at write time and is strictly monotonic within the file. Version is
// opaque; the engine never parses it. Expiration is a Unix timestamp in
// seconds, 0 meaning "never".
type Record struct {
	Key        []byte
	Version    []byte
	Body       []byte
	Flags      Flags
	Sequence   uint64
	Expiration uint64

	// BodySize is the stored body length even when the read was MetaOnly.
	BodySize int64
}

// Exists reports whether the record was actually found (a zero sequence
// means it never was written).
func (r *Record) Exists() bool { return r != nil && r.Sequence > 0 }
