package docyard

// query.go implements compiled queries: an immutable compilation artifact
// owning a prepared statement template, plus factories for enumerators.

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/aalhour/docyard/internal/queryparser"
)

// FullTextTerm identifies one full-text match span in a result row.
type FullTextTerm struct {
	// DataSource is the match's FTS rowid.
	DataSource uint64
	// KeyIndex is the index of the matched column within the index.
	KeyIndex uint32
	// TermIndex is the index of the matched term within the MATCH pattern.
	TermIndex uint32
	// ByteOffset and ByteLength locate the match in the indexed text.
	ByteOffset uint32
	ByteLength uint32
}

// Query is a compiled selector over one key store. Immutable and safe to
// share; create one enumerator per iteration.
type Query struct {
	db    *Database
	store *BothKeyStore
	json  []byte

	sql                     string
	stmt                    *sql.Stmt
	allParams               []string            // every bindable parameter
	required                map[string]struct{} // parameters that warn when unbound
	ftsTables               []string
	firstCustomResultColumn int
	columnTitles            []string
	totalColumns            int

	matchedTextStmt *sql.Stmt
}

// CompileQuery compiles a JSON selector against the store's live
// documents.
func (s *BothKeyStore) CompileQuery(selector []byte) (*Query, error) {
	db := s.live.db
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	db.log.Infof("[query] compiling selector: %s", selector)

	compiled, err := queryparser.Compile(selector, queryparser.Source{
		Table:      s.live.table,
		IndexTable: s.live.indexTable,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	q := &Query{
		db:                      db,
		store:                   s,
		json:                    append([]byte(nil), selector...),
		sql:                     compiled.SQL,
		allParams:               compiled.Parameters,
		required:                make(map[string]struct{}),
		ftsTables:               compiled.FTSTables,
		firstCustomResultColumn: compiled.FirstCustomResultColumn,
		columnTitles:            compiled.ColumnTitles,
		totalColumns:            compiled.FirstCustomResultColumn + len(compiled.ColumnTitles),
	}

	// Parameters named opt_* are optional: no warning when left unbound.
	for _, p := range compiled.Parameters {
		if !strings.HasPrefix(p, "opt_") {
			q.required[p] = struct{}{}
		}
	}

	// A match test is only as good as its index.
	for _, fts := range compiled.FTSTables {
		exists, err := tableExists(db.sql, fts)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: 'MATCH' test requires a full-text index", ErrNoSuchIndex)
		}
	}

	if compiled.UsesExpiration {
		if err := s.live.addExpirationTracking(db.sql); err != nil {
			return nil, err
		}
	}

	db.log.Infof("[query] compiled as %s", compiled.SQL)
	if q.stmt, err = db.sql.Prepare(compiled.SQL); err != nil {
		return nil, fmt.Errorf("docyard: prepare query: %w", err)
	}
	return q, nil
}

// ColumnCount returns the number of user-declared result columns.
func (q *Query) ColumnCount() int { return q.totalColumns - q.firstCustomResultColumn }

// ColumnTitles returns the titles of the user-declared result columns.
func (q *Query) ColumnTitles() []string { return q.columnTitles }

// Explain returns the generated SQL, the engine's query plan, and the
// original selector.
func (q *Query) Explain() (string, error) {
	var b strings.Builder
	b.WriteString(q.sql)
	b.WriteString("\n\n")

	rows, err := q.db.sql.Query("EXPLAIN QUERY PLAN " + q.sql)
	if err != nil {
		return "", fmt.Errorf("docyard: explain: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%d|%d|%d| %s\n", id, parent, notUsed, detail)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	b.WriteByte('\n')
	b.Write(q.json)
	b.WriteByte('\n')
	return b.String(), nil
}

// MatchedText returns the indexed text a full-text term matched in.
func (q *Query) MatchedText(term FullTextTerm) ([]byte, error) {
	if len(q.ftsTables) == 0 {
		return nil, ErrNoSuchIndex
	}
	// TODO: support terms from a second MATCH in the same query.
	fts := q.ftsTables[0]

	if q.matchedTextStmt == nil {
		stmt, err := q.db.sql.Prepare(fmt.Sprintf(`SELECT * FROM %q WHERE docid = ?`, fts))
		if err != nil {
			return nil, fmt.Errorf("docyard: matched text: %w", err)
		}
		q.matchedTextStmt = stmt
	}

	rows, err := q.matchedTextStmt.Query(int64(term.DataSource))
	if err != nil {
		return nil, fmt.Errorf("docyard: matched text: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		q.db.log.Warnf("[query] FTS index %s has no row for docid %d", fts, term.DataSource)
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if int(term.KeyIndex) >= len(cols) {
		return nil, ErrInvalidParameter
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	switch v := vals[term.KeyIndex].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return append([]byte(nil), v...), nil
	case nil:
		return nil, nil
	default:
		return []byte(fmt.Sprint(v)), nil
	}
}

// Run creates an enumerator over the query's current results.
func (q *Query) Run(opts *QueryOptions) (*QueryEnumerator, error) {
	return q.createEnumerator(opts, 0)
}

// createEnumerator executes the query against the store's current
// sequence. When lastSeq is nonzero and the store has not advanced past
// it, no enumerator is created and (nil, nil) returns — refresh uses this
// to detect an unchanged file.
func (q *Query) createEnumerator(opts *QueryOptions, lastSeq uint64) (*QueryEnumerator, error) {
	if q.db.closed.Load() {
		return nil, ErrDBClosed
	}
	curSeq, err := q.store.LastSequence()
	if err != nil {
		return nil, err
	}
	if lastSeq > 0 && lastSeq == curSeq {
		return nil, nil
	}
	return newQueryEnumerator(q, opts, curSeq)
}

// Close releases the prepared statements. Enumerators created earlier
// keep their own row handles and stay usable.
func (q *Query) Close() error {
	var err error
	if q.stmt != nil {
		err = q.stmt.Close()
		q.stmt = nil
	}
	if q.matchedTextStmt != nil {
		if cerr := q.matchedTextStmt.Close(); err == nil {
			err = cerr
		}
		q.matchedTextStmt = nil
	}
	return err
}
