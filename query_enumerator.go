package docyard

// query_enumerator.go implements the paged query result enumerator.
//
// Two modes exist. A buffered enumerator (the default) materializes every
// row into an in-memory recording up front and supports seek, row counting
// and refresh. A one-shot enumerator streams straight from the live
// statement; to survive the file changing mid-stream it registers as a
// pre-transaction observer and materializes its remaining rows the moment
// a writer is about to start.

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/aalhour/docyard/internal/rowcodec"
)

// pageSize is the number of rows recorded at a time.
const pageSize = 50

// Implicit prefix columns of a full-text query result.
const (
	ftsRowidCol   = 0
	ftsOffsetsCol = 1
)

// playback replays one immutable recording of result rows. It is always
// positioned on a row; construction and seek position it explicitly, next
// advances.
type playback struct {
	rec      *rowcodec.Recording
	firstRow int64
	idx      int
}

// seek positions the playback on the absolute rowIndex, if it is inside
// this recording's window.
func (p *playback) seek(rowIndex int64) bool {
	i := rowIndex - p.firstRow
	if i < 0 || i >= int64(p.rec.NumRows()) {
		return false
	}
	p.idx = int(i)
	return true
}

func (p *playback) next() bool {
	p.idx++
	return p.idx < p.rec.NumRows()
}

func (p *playback) row() ([]any, uint64, error) { return p.rec.Row(p.idx) }

// hasEqualContents compares the underlying recording buffers. The encoder
// is deterministic for a given row set, so byte identity is content
// identity.
func (p *playback) hasEqualContents(other *playback) bool {
	if p == nil || other == nil {
		return p == nil && other == nil
	}
	return p.rec.Equal(other.rec)
}

// QueryEnumerator is a snapshot of a Query's results at a particular
// sequence. Safe to drive from one goroutine; the pre-transaction hook may
// fire from a writer's goroutine and is internally synchronized.
type QueryEnumerator struct {
	query *Query
	opts  QueryOptions

	mu             sync.Mutex
	rows           *sql.Rows // live statement; nil once exhausted or released
	nCols          int
	resultKeys     *rowcodec.SharedKeys
	lastSequence   uint64
	rowCount       int64
	curRow         int64
	cur, next, old *playback
	observing      bool
	unbound        map[string]struct{}
	curCols        []any  // decoded current row
	curMissing     uint64 // current row's missing bitmap
}

func newQueryEnumerator(q *Query, opts *QueryOptions, lastSequence uint64) (*QueryEnumerator, error) {
	e := &QueryEnumerator{
		query: q,
		// Result rows may introduce dict keys that are not in the
		// database's document dictionary, so the enumerator encodes under
		// its own fresh one.
		resultKeys:   rowcodec.NewSharedKeys(),
		lastSequence: lastSequence,
		curRow:       -1,
		unbound:      make(map[string]struct{}),
	}
	if opts != nil {
		e.opts = *opts
	}
	for p := range q.required {
		e.unbound[p] = struct{}{}
	}

	args, err := e.bindParameters(e.opts.ParamBindings)
	if err != nil {
		return nil, err
	}
	if len(e.unbound) > 0 {
		var names []string
		for p := range e.unbound {
			names = append(names, "$"+p)
		}
		q.db.log.Warnf("[enum] query parameters left unbound and will read as MISSING: %s",
			strings.Join(names, " "))
	}

	if e.rows, err = q.stmt.Query(args...); err != nil {
		return nil, fmt.Errorf("docyard: run query: %w", err)
	}
	cols, err := e.rows.Columns()
	if err != nil {
		e.rows.Close()
		return nil, err
	}
	e.nCols = len(cols)

	if e.opts.OneShot {
		// Watch for a writer starting, so the remaining result rows can be
		// read before the database changes underneath.
		q.db.AddPreTransactionObserver(e)
		e.observing = true
	} else {
		e.mu.Lock()
		err := e.fastForward()
		e.mu.Unlock()
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// bindParameters converts the JSON bindings into the statement's named
// arguments. Every declared parameter is passed — unbound ones as NULL —
// so the full argument list always matches the statement.
func (e *QueryEnumerator) bindParameters(bindings []byte) ([]any, error) {
	bound := make(map[string]any)
	if len(bindings) > 0 {
		trimmed := strings.TrimSpace(string(bindings))
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			return nil, fmt.Errorf("%w: parameter bindings must be a JSON object", ErrInvalidParameter)
		}
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var root map[string]any
		if err := dec.Decode(&root); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}

		declared := make(map[string]struct{}, len(e.query.allParams))
		for _, p := range e.query.allParams {
			declared[p] = struct{}{}
		}
		for key, val := range root {
			if _, ok := declared[key]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidQueryParam, key)
			}
			delete(e.unbound, key)
			v, err := bindValue(val, e.resultKeys)
			if err != nil {
				return nil, err
			}
			bound[key] = v
		}
	}

	args := make([]any, 0, len(e.query.allParams))
	for _, p := range e.query.allParams {
		args = append(args, sql.Named("_"+p, bound[p]))
	}
	return args, nil
}

// bindValue maps a JSON parameter value onto a SQL binding: integers as
// signed 64-bit, booleans and other numbers as doubles, strings as text,
// anything else as an encoded blob.
func bindValue(val any, sk *rowcodec.SharedKeys) (any, error) {
	switch x := val.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return float64(1), nil
		}
		return float64(0), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrInvalidParameter, x.String())
		}
		return f, nil
	case string:
		return x, nil
	default:
		blob, err := rowcodec.EncodeValue(nil, val, sk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		return blob, nil
	}
}

// PreTransaction implements PreTransactionObserver: a writer is about to
// start, so materialize the remaining rows now.
func (e *QueryEnumerator) PreTransaction() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fastForward(); err != nil {
		e.query.db.log.Errorf("[enum] materializing on pre-transaction: %v", err)
	}
	e.endObservingLocked()
}

func (e *QueryEnumerator) endObservingLocked() {
	if e.observing {
		e.observing = false
		e.query.db.RemovePreTransactionObserver(e)
	}
}

// stepStatement advances the live statement one row, releasing it at the
// end of the result set.
func (e *QueryEnumerator) stepStatement() (bool, error) {
	if e.rows == nil {
		return false, nil
	}
	if e.rows.Next() {
		e.rowCount++
		return true, nil
	}
	err := e.rows.Err()
	e.rows.Close()
	e.rows = nil
	e.endObservingLocked()
	return false, err
}

// scanRow reads the current statement row into recordable column values,
// computing the missing-column bitmap. Only the first 64 columns are
// tracked in the bitmap; later ones still encode inline as null.
func (e *QueryEnumerator) scanRow() ([]any, uint64, error) {
	raw := make([]any, e.nCols)
	ptrs := make([]any, e.nCols)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := e.rows.Scan(ptrs...); err != nil {
		return nil, 0, err
	}

	var missing uint64
	cols := make([]any, e.nCols)
	for i, v := range raw {
		switch x := v.(type) {
		case nil:
			if i < 64 {
				missing |= 1 << i
			}
			cols[i] = nil
		case int64, float64, string:
			cols[i] = x
		case bool:
			cols[i] = x
		case []byte:
			if i >= e.query.firstCustomResultColumn {
				// User column blobs hold the embedded rich-value format,
				// encoded under the database's document keys.
				val, _, err := rowcodec.DecodeValue(x, e.query.db.fns.documentKeys)
				if err != nil {
					return nil, 0, fmt.Errorf("%w: %v", ErrCorruptRevisionData, err)
				}
				cols[i] = val
			} else {
				// Prefix column blobs (such as the record key) surface as
				// text slices.
				cols[i] = string(x)
			}
		default:
			cols[i] = fmt.Sprint(x)
		}
	}
	return cols, missing, nil
}

// recordRows encodes up to maxRows statement rows into a fresh recording,
// or nil when the statement has no more rows.
func (e *QueryEnumerator) recordRows(maxRows int64) (*playback, error) {
	if e.rows == nil {
		return nil, nil
	}
	firstRow := e.rowCount
	enc := rowcodec.NewEncoder(e.resultKeys)

	// Row encoding runs with the query-context flag raised so stale body
	// reads degrade to NULL instead of killing the statement.
	e.query.db.fns.enterQueryContext()
	defer e.query.db.fns.exitQueryContext()

	for int64(enc.NumRows()) < maxRows {
		ok, err := e.stepStatement()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		cols, missing, err := e.scanRow()
		if err != nil {
			return nil, err
		}
		if err := enc.EncodeRow(cols, missing); err != nil {
			return nil, err
		}
	}
	if enc.NumRows() == 0 {
		e.query.db.log.Debugf("[enum] no more rows")
		return nil, nil
	}
	rec := enc.Finish()
	e.query.db.log.Debugf("[enum] recorded %d rows (%d bytes)", rec.NumRows(), len(rec.Data()))
	return &playback{rec: rec, firstRow: firstRow}, nil
}

// fastForward materializes all remaining statement rows into the queued
// recording. Called with e.mu held.
func (e *QueryEnumerator) fastForward() error {
	if e.rows == nil {
		return nil
	}
	e.query.db.log.Debugf("[enum] recording remaining result rows")
	next, err := e.recordRows(math.MaxInt64)
	if err != nil {
		return err
	}
	e.next = next
	return nil
}

// Next advances to the next result row, returning false at the end.
func (e *QueryEnumerator) Next() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.cur != nil && e.cur.next():
		// still inside the current recording
	case e.next != nil:
		e.cur, e.next = e.next, nil
	default:
		if !e.opts.OneShot {
			e.old = e.cur // kept for refresh comparison
		}
		cur, err := e.recordRows(pageSize)
		if err != nil {
			return false, err
		}
		e.cur = cur
	}

	if e.cur == nil {
		e.curCols, e.curMissing = nil, 0
		return false, nil
	}
	e.curRow++
	return true, e.loadRowLocked()
}

// loadRowLocked decodes the current playback row into curCols/curMissing.
func (e *QueryEnumerator) loadRowLocked() error {
	cols, missing, err := e.cur.row()
	if err != nil {
		return err
	}
	e.curCols, e.curMissing = cols, missing
	return nil
}

// Columns returns the user-declared column values of the current row.
func (e *QueryEnumerator) Columns() []any {
	if e.curCols == nil {
		return nil
	}
	return e.curCols[e.query.firstCustomResultColumn:]
}

// Column returns one user-declared column of the current row.
func (e *QueryEnumerator) Column(i int) any {
	cols := e.Columns()
	if i < 0 || i >= len(cols) {
		return nil
	}
	return cols[i]
}

// MissingColumns returns the bitmap of result columns (within the first
// 64, prefix columns included) that were SQL NULL in the current row.
func (e *QueryEnumerator) MissingColumns() uint64 { return e.curMissing }

// RowCount returns the total number of result rows, materializing the
// rest of the result set if needed.
func (e *QueryEnumerator) RowCount() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fastForward(); err != nil {
		return 0, err
	}
	return e.rowCount, nil
}

// Seek positions the enumerator on the given absolute row index. A
// one-shot enumerator cannot seek back past the current recording;
// seeking past the last row fails with ErrInvalidParameter.
func (e *QueryEnumerator) Seek(rowIndex int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rowIndex == e.curRow {
		return nil
	}
	if e.cur != nil && e.cur.seek(rowIndex) {
		e.curRow = rowIndex
		return e.loadRowLocked()
	}

	if rowIndex < e.curRow {
		// Seeking back.
		if e.cur != nil && rowIndex+1 == e.cur.firstRow {
			// To just before the current recording: rewind it and park it
			// as next, so the following Next lands on its first row.
			e.cur.seek(e.cur.firstRow)
			e.next, e.cur = e.cur, nil
			e.curCols, e.curMissing = nil, 0
		} else if !e.opts.OneShot && e.cur == nil && e.old != nil && e.old.seek(rowIndex) {
			// A buffered enumerator that ran off the end still holds its
			// recording as old; resume playback from it.
			e.cur = e.old
			if err := e.loadRowLocked(); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("%w: one-shot query enumerator cannot seek back", ErrUnsupportedOperation)
		}
	} else {
		// Seeking forward past the current recording.
		if e.next != nil {
			// If a queued recording exists, it must contain the row.
			if !e.next.seek(rowIndex) {
				return fmt.Errorf("%w: seeking past end of query results", ErrInvalidParameter)
			}
			e.cur, e.next = e.next, nil
			if err := e.loadRowLocked(); err != nil {
				return err
			}
		} else {
			// Otherwise step the statement up to the row and record a
			// fresh page from there.
			for e.rowCount < rowIndex {
				ok, err := e.stepStatement()
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: seeking past end of query results", ErrInvalidParameter)
				}
			}
			e.cur = nil
			e.curCols, e.curMissing = nil, 0
			cur, err := e.recordRows(pageSize)
			if err != nil {
				return err
			}
			if cur == nil {
				return fmt.Errorf("%w: seeking past end of query results", ErrInvalidParameter)
			}
			e.cur = cur
			if err := e.loadRowLocked(); err != nil {
				return err
			}
		}
	}
	e.curRow = rowIndex
	return nil
}

// hasEqualContents reports whether two enumerators recorded byte-identical
// result data.
func (e *QueryEnumerator) hasEqualContents(other *QueryEnumerator) bool {
	e1 := e.cur
	if e1 == nil {
		e1 = e.next
	}
	if e1 == nil {
		e1 = e.old
	}
	e2 := other.cur
	if e2 == nil {
		e2 = other.next
	}
	return e1.hasEqualContents(e2)
}

// Refresh re-runs the query. It returns nil when the results cannot have
// changed (same last sequence) or did not change (byte-identical
// recording); otherwise it returns a brand-new enumerator positioned at
// the start. Only buffered enumerators can refresh.
func (e *QueryEnumerator) Refresh() (*QueryEnumerator, error) {
	if e.opts.OneShot {
		return nil, fmt.Errorf("%w: one-shot query enumerator cannot refresh", ErrUnsupportedOperation)
	}
	newEnum, err := e.query.createEnumerator(&e.opts, e.lastSequence)
	if err != nil {
		return nil, err
	}
	if newEnum == nil {
		return nil, nil
	}
	e.mu.Lock()
	equal := e.hasEqualContents(newEnum)
	if equal {
		// Results unchanged; remember the newer sequence so the next
		// refresh can short-circuit.
		e.lastSequence = newEnum.lastSequence
	}
	e.mu.Unlock()
	if equal {
		newEnum.Close()
		return nil, nil
	}
	return newEnum, nil
}

// HasFullText reports whether the compiled query referenced a full-text
// index.
func (e *QueryEnumerator) HasFullText() bool { return len(e.query.ftsTables) > 0 }

// FullTextTerms parses the current row's match terms from the implicit
// full-text prefix columns: the match rowid, and a whitespace-separated
// integer stream in groups of four (key index, term index, byte offset,
// byte length).
func (e *QueryEnumerator) FullTextTerms() ([]FullTextTerm, error) {
	if !e.HasFullText() {
		return nil, nil
	}
	if e.curCols == nil {
		return nil, fmt.Errorf("%w: no current row", ErrInvalidParameter)
	}
	dataSource, ok := e.curCols[ftsRowidCol].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: full-text rowid column", ErrCorruptRevisionData)
	}
	offsets, ok := e.curCols[ftsOffsetsCol].(string)
	if !ok {
		return nil, fmt.Errorf("%w: full-text offsets column", ErrCorruptRevisionData)
	}

	fields := strings.Fields(offsets)
	if len(fields)%4 != 0 {
		return nil, fmt.Errorf("%w: full-text offsets stream", ErrCorruptRevisionData)
	}
	terms := make([]FullTextTerm, 0, len(fields)/4)
	for i := 0; i < len(fields); i += 4 {
		var n [4]uint32
		for j := 0; j < 4; j++ {
			v, err := strconv.ParseUint(fields[i+j], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: full-text offsets stream: %v", ErrCorruptRevisionData, err)
			}
			n[j] = uint32(v)
		}
		terms = append(terms, FullTextTerm{
			DataSource: uint64(dataSource),
			KeyIndex:   n[0],
			TermIndex:  n[1],
			ByteOffset: n[2],
			ByteLength: n[3],
		})
	}
	return terms, nil
}

// LastSequence returns the store sequence this enumerator's snapshot was
// taken at.
func (e *QueryEnumerator) LastSequence() uint64 { return e.lastSequence }

// Close releases the live statement, if any, and de-registers the
// pre-transaction observer.
func (e *QueryEnumerator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endObservingLocked()
	if e.rows != nil {
		err := e.rows.Close()
		e.rows = nil
		return err
	}
	return nil
}
