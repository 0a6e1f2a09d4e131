package docyard

// options.go implements database configuration options.

import (
	"github.com/aalhour/docyard/internal/compression"
	"github.com/aalhour/docyard/internal/logging"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the body compression codec type.
type CompressionType = compression.Type

// Compression type constants.
const (
	CompressionNone   = compression.NoCompression
	CompressionSnappy = compression.SnappyCompression
	CompressionZstd   = compression.ZstdCompression
	CompressionLZ4    = compression.LZ4Compression
)

// minBodySizeToCompress is the smallest body the store will bother
// compressing; below this the codec overhead outweighs the savings.
const minBodySizeToCompress = 500

// Options configures a Database.
type Options struct {
	// CreateIfMissing creates the file if it does not exist.
	CreateIfMissing bool

	// ReadOnly opens the file without write access. Writes fail.
	ReadOnly bool

	// BodyCompression is the codec applied to document bodies of at least
	// minBodySizeToCompress bytes. Stored bodies carry a codec tag, so the
	// option may change between opens without invalidating old records.
	BodyCompression CompressionType

	// Logger receives diagnostic output. Defaults to logging.Discard.
	Logger Logger
}

// DefaultOptions returns the default database options.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing: true,
		BodyCompression: CompressionNone,
		Logger:          logging.Discard,
	}
}

// SortOption orders a record enumeration.
type SortOption int

const (
	// Unsorted lets the engine pick the cheapest order. A merged live/dead
	// enumeration upgrades this to Ascending, since merging needs an order.
	Unsorted SortOption = iota
	// Ascending sorts by ascending key or sequence.
	Ascending
	// Descending sorts by descending key or sequence.
	Descending
)

// EnumeratorOptions configures a RecordEnumerator.
type EnumeratorOptions struct {
	Sort           SortOption
	IncludeDeleted bool
	Content        ContentOption
}

// DefaultEnumeratorOptions returns the default enumeration options:
// ascending, live records only, whole bodies.
func DefaultEnumeratorOptions() EnumeratorOptions {
	return EnumeratorOptions{Sort: Ascending, Content: WholeBody}
}

// QueryOptions configures a QueryEnumerator.
type QueryOptions struct {
	// OneShot streams results directly from the live statement. A one-shot
	// enumerator cannot seek backward or refresh; it materializes its
	// remaining rows automatically when a writer is about to start.
	OneShot bool

	// ParamBindings supplies values for the query's named parameters, as a
	// JSON object. May be nil when the query has no required parameters.
	ParamBindings []byte
}
