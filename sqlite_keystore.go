package docyard

// sqlite_keystore.go implements the physical key store: one kv_* table
// per store, with sequence allocation through the shared kvmeta table and
// value / full-text index maintenance.

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aalhour/docyard/internal/compression"
)

// sqliteKeyStore is a named record table inside one database file.
// Physical stores carry flags opaquely apart from filtering on FlagDeleted
// when deleted records are excluded; tombstone routing is the
// BothKeyStore's job.
type sqliteKeyStore struct {
	db    *Database
	name  string
	table string

	// seqName is the kvmeta row this store allocates sequences from.
	// ShareSequencesWith points it at another store's row.
	seqName string

	ftsMu      sync.Mutex
	ftsCache   []ftsIndex
	ftsCacheOK bool
}

type ftsIndex struct {
	name    string
	backing string
	paths   []string
}

func newSQLiteKeyStore(db *Database, name string) *sqliteKeyStore {
	return &sqliteKeyStore{
		db:      db,
		name:    name,
		table:   "kv_" + name,
		seqName: name,
	}
}

// createTable makes the store's table and allocator row if missing.
func (s *sqliteKeyStore) createTable() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		key        TEXT PRIMARY KEY NOT NULL,
		sequence   INTEGER NOT NULL,
		flags      INTEGER NOT NULL DEFAULT 0,
		version    BLOB,
		body       BLOB,
		expiration INTEGER NOT NULL DEFAULT 0
	)`, s.table)
	if _, err := s.db.sql.Exec(ddl); err != nil {
		return fmt.Errorf("docyard: create key store %q: %w", s.name, err)
	}
	_, err := s.db.sql.Exec(`INSERT OR IGNORE INTO kvmeta (name, lastSeq) VALUES (?, 0)`, s.seqName)
	if err != nil {
		return fmt.Errorf("docyard: create key store %q: %w", s.name, err)
	}
	return nil
}

// Name implements KeyStore.
func (s *sqliteKeyStore) Name() string { return s.name }

// ShareSequencesWith implements KeyStore. Must be called once, before any
// write through this store.
func (s *sqliteKeyStore) ShareSequencesWith(other KeyStore) {
	o, ok := other.(*sqliteKeyStore)
	if !ok {
		panic("docyard: can only share sequences with a physical key store")
	}
	s.seqName = o.seqName
}

// nextSequence allocates the next sequence inside t's SQL transaction.
func (s *sqliteKeyStore) nextSequence(t *Transaction) (uint64, error) {
	var seq uint64
	err := t.sqlTx.QueryRow(
		`UPDATE kvmeta SET lastSeq = lastSeq + 1 WHERE name = ? RETURNING lastSeq`,
		s.seqName).Scan(&seq)
	if err != nil {
		return 0, t.check(fmt.Errorf("docyard: allocate sequence: %w", err))
	}
	return seq, nil
}

// LastSequence implements KeyStore.
func (s *sqliteKeyStore) LastSequence() (uint64, error) {
	var seq uint64
	err := s.db.sql.QueryRow(`SELECT lastSeq FROM kvmeta WHERE name = ?`, s.seqName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("docyard: last sequence: %w", err)
	}
	return seq, nil
}

// Get implements KeyStore.
func (s *sqliteKeyStore) Get(key []byte, content ContentOption) (*Record, error) {
	if len(key) == 0 {
		return nil, ErrInvalidParameter
	}
	rec := &Record{Key: append([]byte(nil), key...)}
	var stored []byte
	var err error
	if content == MetaOnly {
		err = s.db.sql.QueryRow(fmt.Sprintf(
			`SELECT sequence, flags, version, expiration, coalesce(length(body),0) FROM %q WHERE key = ?`, s.table),
			string(key)).Scan(&rec.Sequence, &rec.Flags, &rec.Version, &rec.Expiration, &rec.BodySize)
	} else {
		err = s.db.sql.QueryRow(fmt.Sprintf(
			`SELECT sequence, flags, version, expiration, coalesce(length(body),0), body FROM %q WHERE key = ?`, s.table),
			string(key)).Scan(&rec.Sequence, &rec.Flags, &rec.Version, &rec.Expiration, &rec.BodySize, &stored)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docyard: get %q: %w", key, err)
	}
	if content == WholeBody && stored != nil {
		if rec.Body, err = compression.Decode(stored); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRevisionData, err)
		}
	}
	return rec, nil
}

// frameBody applies the database's body codec, skipping small bodies.
func (s *sqliteKeyStore) frameBody(body []byte) ([]byte, error) {
	codec := s.db.opts.BodyCompression
	if len(body) < minBodySizeToCompress {
		codec = CompressionNone
	}
	return compression.Encode(codec, body)
}

// Set implements KeyStore. See SetOptions for the MVCC cases.
func (s *sqliteKeyStore) Set(key, version, body []byte, flags Flags, t *Transaction, opts *SetOptions) (uint64, error) {
	if len(key) == 0 {
		return 0, ErrInvalidParameter
	}
	if t == nil || t.sqlTx == nil {
		return 0, fmt.Errorf("%w: write outside a transaction", ErrInvalidParameter)
	}
	stored, err := s.frameBody(body)
	if err != nil {
		return 0, t.check(err)
	}

	if opts == nil {
		// Unconditional upsert.
		seq, err := s.nextSequence(t)
		if err != nil {
			return 0, err
		}
		_, err = t.sqlTx.Exec(fmt.Sprintf(
			`INSERT INTO %q (key, sequence, flags, version, body) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				sequence = excluded.sequence, flags = excluded.flags,
				version = excluded.version, body = excluded.body`, s.table),
			string(key), seq, flags, version, stored)
		if err != nil {
			return 0, t.check(fmt.Errorf("docyard: set %q: %w", key, err))
		}
		if err := s.updateFTS(t, key, stored); err != nil {
			return 0, err
		}
		return seq, nil
	}

	var curSeq uint64
	err = t.sqlTx.QueryRow(fmt.Sprintf(`SELECT sequence FROM %q WHERE key = ?`, s.table), string(key)).Scan(&curSeq)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, t.check(fmt.Errorf("docyard: set %q: %w", key, err))
	}

	if opts.ReplacingSequence == 0 {
		// Insert-only: any existing record is a conflict.
		if exists {
			return 0, nil
		}
		seq, err := s.nextSequence(t)
		if err != nil {
			return 0, err
		}
		_, err = t.sqlTx.Exec(fmt.Sprintf(
			`INSERT INTO %q (key, sequence, flags, version, body) VALUES (?, ?, ?, ?, ?)`, s.table),
			string(key), seq, flags, version, stored)
		if err != nil {
			return 0, t.check(fmt.Errorf("docyard: set %q: %w", key, err))
		}
		if err := s.updateFTS(t, key, stored); err != nil {
			return 0, err
		}
		return seq, nil
	}

	// Conditional update on the replaced sequence.
	if !exists || curSeq != opts.ReplacingSequence {
		return 0, nil
	}
	newSeq := opts.ReplacingSequence
	if opts.NewSequence {
		var err error
		if newSeq, err = s.nextSequence(t); err != nil {
			return 0, err
		}
	}
	res, err := t.sqlTx.Exec(fmt.Sprintf(
		`UPDATE %q SET sequence = ?, flags = ?, version = ?, body = ?
		 WHERE key = ? AND sequence = ?`, s.table),
		newSeq, flags, version, stored, string(key), opts.ReplacingSequence)
	if err != nil {
		return 0, t.check(fmt.Errorf("docyard: set %q: %w", key, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, nil
	}
	if err := s.updateFTS(t, key, stored); err != nil {
		return 0, err
	}
	return newSeq, nil
}

// Del implements KeyStore.
func (s *sqliteKeyStore) Del(key []byte, t *Transaction, ifSeq uint64) (bool, error) {
	if len(key) == 0 {
		return false, ErrInvalidParameter
	}
	if t == nil || t.sqlTx == nil {
		return false, fmt.Errorf("%w: write outside a transaction", ErrInvalidParameter)
	}
	var rowid int64
	query := fmt.Sprintf(`SELECT rowid FROM %q WHERE key = ?`, s.table)
	args := []any{string(key)}
	if ifSeq > 0 {
		query += ` AND sequence = ?`
		args = append(args, ifSeq)
	}
	err := t.sqlTx.QueryRow(query, args...).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, t.check(fmt.Errorf("docyard: del %q: %w", key, err))
	}
	if _, err := t.sqlTx.Exec(fmt.Sprintf(`DELETE FROM %q WHERE rowid = ?`, s.table), rowid); err != nil {
		return false, t.check(fmt.Errorf("docyard: del %q: %w", key, err))
	}
	if err := s.deleteFTSRows(t, rowid); err != nil {
		return false, err
	}
	return true, nil
}

// RecordCount implements KeyStore.
func (s *sqliteKeyStore) RecordCount(includeDeleted bool) (uint64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %q`, s.table)
	if !includeDeleted {
		query += fmt.Sprintf(` WHERE (flags & %d) = 0`, FlagDeleted)
	}
	var n uint64
	if err := s.db.sql.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("docyard: record count: %w", err)
	}
	return n, nil
}

// NextExpiration implements KeyStore.
func (s *sqliteKeyStore) NextExpiration() (uint64, error) {
	var next sql.NullInt64
	err := s.db.sql.QueryRow(fmt.Sprintf(
		`SELECT min(expiration) FROM %q WHERE expiration > 0`, s.table)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("docyard: next expiration: %w", err)
	}
	if !next.Valid {
		return 0, nil
	}
	return uint64(next.Int64), nil
}

// addExpirationTracking creates the expiration index; it is idempotent and
// triggered lazily by the first expiring record or expiration-aware query.
// It runs on q so it can share an open writer transaction.
func (s *sqliteKeyStore) addExpirationTracking(q querier) error {
	_, err := q.Exec(fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %q ON %q (expiration) WHERE expiration > 0`,
		s.table+"::expiration", s.table))
	if err != nil {
		return fmt.Errorf("docyard: expiration index: %w", err)
	}
	return nil
}

// SetExpiration implements KeyStore.
func (s *sqliteKeyStore) SetExpiration(key []byte, when uint64, t *Transaction) (bool, error) {
	if t == nil || t.sqlTx == nil {
		return false, fmt.Errorf("%w: write outside a transaction", ErrInvalidParameter)
	}
	if when > 0 {
		if err := s.addExpirationTracking(t.sqlTx); err != nil {
			return false, t.check(err)
		}
	}
	res, err := t.sqlTx.Exec(fmt.Sprintf(`UPDATE %q SET expiration = ? WHERE key = ?`, s.table), when, string(key))
	if err != nil {
		return false, t.check(fmt.Errorf("docyard: set expiration: %w", err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpireRecords implements KeyStore.
func (s *sqliteKeyStore) ExpireRecords(t *Transaction) (uint64, error) {
	if t == nil || t.sqlTx == nil {
		return 0, fmt.Errorf("%w: write outside a transaction", ErrInvalidParameter)
	}
	now := uint64(time.Now().Unix())
	rows, err := t.sqlTx.Query(fmt.Sprintf(
		`SELECT rowid FROM %q WHERE expiration > 0 AND expiration <= ?`, s.table), now)
	if err != nil {
		return 0, t.check(fmt.Errorf("docyard: expire records: %w", err))
	}
	var rowids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, t.check(err)
		}
		rowids = append(rowids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, t.check(err)
	}
	rows.Close()
	for _, id := range rowids {
		if _, err := t.sqlTx.Exec(fmt.Sprintf(`DELETE FROM %q WHERE rowid = ?`, s.table), id); err != nil {
			return 0, t.check(fmt.Errorf("docyard: expire records: %w", err))
		}
		if err := s.deleteFTSRows(t, id); err != nil {
			return 0, err
		}
	}
	return uint64(len(rowids)), nil
}

// WithDocBodies implements KeyStore.
func (s *sqliteKeyStore) WithDocBodies(keys [][]byte, callback WithDocBodyCallback) ([][]byte, error) {
	result := make([][]byte, len(keys))
	for i, key := range keys {
		rec, err := s.Get(key, WholeBody)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if callback != nil {
			result[i] = callback(key, rec.Body)
		} else {
			result[i] = rec.Body
		}
	}
	return result, nil
}

// NewEnumerator implements KeyStore.
func (s *sqliteKeyStore) NewEnumerator(bySequence bool, since uint64, opts EnumeratorOptions) (*RecordEnumerator, error) {
	impl, err := s.newEnumeratorImpl(bySequence, since, opts)
	if err != nil {
		return nil, err
	}
	return &RecordEnumerator{impl: impl}, nil
}

func (s *sqliteKeyStore) newEnumeratorImpl(bySequence bool, since uint64, opts EnumeratorOptions) (enumImpl, error) {
	cols := `key, sequence, flags, version, expiration, coalesce(length(body),0)`
	if opts.Content == WholeBody {
		cols += `, body`
	}
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s FROM %q`, cols, s.table)

	var conds []string
	var args []any
	if bySequence && since > 0 {
		conds = append(conds, `sequence > ?`)
		args = append(args, since)
	}
	if !opts.IncludeDeleted {
		conds = append(conds, fmt.Sprintf(`(flags & %d) = 0`, FlagDeleted))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if opts.Sort != Unsorted {
		col := "key"
		if bySequence {
			col = "sequence"
		}
		dir := "ASC"
		if opts.Sort == Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", col, dir)
	}

	rows, err := s.db.sql.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("docyard: enumerate %q: %w", s.name, err)
	}
	return &sqliteEnumImpl{rows: rows, content: opts.Content}, nil
}

// sqliteEnumImpl streams one store's rows from a live statement.
type sqliteEnumImpl struct {
	rows    *sql.Rows
	content ContentOption
	cur     Record
	stored  []byte
}

func (e *sqliteEnumImpl) next() (bool, error) {
	if e.rows == nil {
		return false, nil
	}
	if !e.rows.Next() {
		err := e.rows.Err()
		e.rows.Close()
		e.rows = nil
		return false, err
	}
	e.cur = Record{}
	e.stored = nil
	var err error
	if e.content == WholeBody {
		err = e.rows.Scan(&e.cur.Key, &e.cur.Sequence, &e.cur.Flags, &e.cur.Version,
			&e.cur.Expiration, &e.cur.BodySize, &e.stored)
	} else {
		err = e.rows.Scan(&e.cur.Key, &e.cur.Sequence, &e.cur.Flags, &e.cur.Version,
			&e.cur.Expiration, &e.cur.BodySize)
	}
	if err != nil {
		e.rows.Close()
		e.rows = nil
		return false, err
	}
	return true, nil
}

func (e *sqliteEnumImpl) key() []byte      { return e.cur.Key }
func (e *sqliteEnumImpl) sequence() uint64 { return e.cur.Sequence }

func (e *sqliteEnumImpl) read(r *Record) error {
	*r = e.cur
	if e.content == WholeBody && e.stored != nil {
		body, err := compression.Decode(e.stored)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptRevisionData, err)
		}
		r.Body = body
	}
	return nil
}

func (e *sqliteEnumImpl) close() error {
	if e.rows == nil {
		return nil
	}
	err := e.rows.Close()
	e.rows = nil
	return err
}

// -- Index management --

// indexTable returns the backing table name of a named index.
func (s *sqliteKeyStore) indexTable(indexName string) string {
	return s.table + "::" + indexName
}

// CreateIndex implements KeyStore.
func (s *sqliteKeyStore) CreateIndex(name string, kind IndexKind, expressions []string, t *Transaction) error {
	if name == "" || len(expressions) == 0 {
		return ErrInvalidParameter
	}
	if t == nil || t.sqlTx == nil {
		return fmt.Errorf("%w: index creation outside a transaction", ErrInvalidParameter)
	}
	exprJSON, err := json.Marshal(expressions)
	if err != nil {
		return err
	}

	var existingKind IndexKind
	var existingExpr string
	err = t.sqlTx.QueryRow(`SELECT kind, expression FROM indexes WHERE name = ?`, name).
		Scan(&existingKind, &existingExpr)
	if err == nil {
		if existingKind == kind && existingExpr == string(exprJSON) {
			return nil // same definition, nothing to do
		}
		return ErrIndexExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return t.check(err)
	}

	backing := s.indexTable(name)
	switch kind {
	case ValueIndex:
		terms := make([]string, len(expressions))
		for i, expr := range expressions {
			path := strings.ReplaceAll(strings.TrimPrefix(expr, "."), "'", "''")
			terms[i] = fmt.Sprintf("doc_value(body, '%s')", path)
		}
		_, err = t.sqlTx.Exec(fmt.Sprintf(`CREATE INDEX %q ON %q (%s)`,
			backing, s.table, strings.Join(terms, ", ")))
		if err != nil {
			return t.check(fmt.Errorf("docyard: create index %q: %w", name, err))
		}

	case FullTextIndex:
		cols := make([]string, len(expressions))
		for i := range expressions {
			cols[i] = fmt.Sprintf("c%d", i)
		}
		_, err = t.sqlTx.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE %q USING fts4(%s, tokenize=unicode61)`,
			backing, strings.Join(cols, ", ")))
		if err != nil {
			return t.check(fmt.Errorf("docyard: create index %q: %w", name, err))
		}
		if err := s.populateFTS(t, backing, expressions); err != nil {
			return err
		}

	default:
		return ErrInvalidParameter
	}

	_, err = t.sqlTx.Exec(`INSERT INTO indexes (name, keyStore, kind, expression) VALUES (?, ?, ?, ?)`,
		name, s.name, kind, string(exprJSON))
	if err != nil {
		return t.check(err)
	}
	s.invalidateFTSCache()
	s.db.log.Infof("[index] created %s index %q on %s", kindName(kind), name, s.name)
	return nil
}

func kindName(kind IndexKind) string {
	if kind == FullTextIndex {
		return "full-text"
	}
	return "value"
}

// DeleteIndex implements KeyStore.
func (s *sqliteKeyStore) DeleteIndex(name string, t *Transaction) error {
	if t == nil || t.sqlTx == nil {
		return fmt.Errorf("%w: index deletion outside a transaction", ErrInvalidParameter)
	}
	var kind IndexKind
	err := t.sqlTx.QueryRow(`SELECT kind FROM indexes WHERE name = ? AND keyStore = ?`, name, s.name).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSuchIndex
	}
	if err != nil {
		return t.check(err)
	}
	backing := s.indexTable(name)
	if kind == FullTextIndex {
		_, err = t.sqlTx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, backing))
	} else {
		_, err = t.sqlTx.Exec(fmt.Sprintf(`DROP INDEX IF EXISTS %q`, backing))
	}
	if err != nil {
		return t.check(fmt.Errorf("docyard: delete index %q: %w", name, err))
	}
	if _, err := t.sqlTx.Exec(`DELETE FROM indexes WHERE name = ?`, name); err != nil {
		return t.check(err)
	}
	s.invalidateFTSCache()
	return nil
}

// IndexNames implements KeyStore.
func (s *sqliteKeyStore) IndexNames() ([]string, error) {
	rows, err := s.db.sql.Query(`SELECT name FROM indexes WHERE keyStore = ? ORDER BY name`, s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *sqliteKeyStore) invalidateFTSCache() {
	s.ftsMu.Lock()
	s.ftsCacheOK = false
	s.ftsMu.Unlock()
}

// ftsIndexes lists the store's full-text indexes, cached until an index is
// created or deleted through this handle.
func (s *sqliteKeyStore) ftsIndexes(q querier) ([]ftsIndex, error) {
	s.ftsMu.Lock()
	defer s.ftsMu.Unlock()
	if s.ftsCacheOK {
		return s.ftsCache, nil
	}
	rows, err := q.Query(`SELECT name, expression FROM indexes WHERE keyStore = ? AND kind = ?`,
		s.name, FullTextIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ftsIndex
	for rows.Next() {
		var name, exprJSON string
		if err := rows.Scan(&name, &exprJSON); err != nil {
			return nil, err
		}
		var paths []string
		if err := json.Unmarshal([]byte(exprJSON), &paths); err != nil {
			return nil, fmt.Errorf("%w: index expression: %v", ErrCorruptRevisionData, err)
		}
		list = append(list, ftsIndex{name: name, backing: s.indexTable(name), paths: paths})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.ftsCache, s.ftsCacheOK = list, true
	return list, nil
}

// populateFTS indexes every existing record into a newly created table.
func (s *sqliteKeyStore) populateFTS(t *Transaction, backing string, paths []string) error {
	rows, err := t.sqlTx.Query(fmt.Sprintf(`SELECT rowid, body FROM %q`, s.table))
	if err != nil {
		return t.check(err)
	}
	type entry struct {
		rowid int64
		body  []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.rowid, &e.body); err != nil {
			rows.Close()
			return t.check(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return t.check(err)
	}
	rows.Close()
	for _, e := range entries {
		if err := s.insertFTSRow(t, backing, paths, e.rowid, e.body); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteKeyStore) insertFTSRow(t *Transaction, backing string, paths []string, rowid int64, stored []byte) error {
	cols := make([]string, 0, len(paths)+1)
	marks := make([]string, 0, len(paths)+1)
	args := make([]any, 0, len(paths)+1)
	cols = append(cols, "docid")
	marks = append(marks, "?")
	args = append(args, rowid)
	for i, path := range paths {
		cols = append(cols, fmt.Sprintf("c%d", i))
		marks = append(marks, "?")
		args = append(args, extractText(stored, strings.TrimPrefix(path, ".")))
	}
	_, err := t.sqlTx.Exec(fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
		backing, strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	if err != nil {
		return t.check(fmt.Errorf("docyard: index record: %w", err))
	}
	return nil
}

// updateFTS refreshes every full-text index entry for the record at key.
func (s *sqliteKeyStore) updateFTS(t *Transaction, key, stored []byte) error {
	list, err := s.ftsIndexes(t.sqlTx)
	if err != nil {
		return t.check(err)
	}
	if len(list) == 0 {
		return nil
	}
	var rowid int64
	if err := t.sqlTx.QueryRow(fmt.Sprintf(`SELECT rowid FROM %q WHERE key = ?`, s.table), string(key)).Scan(&rowid); err != nil {
		return t.check(err)
	}
	for _, idx := range list {
		if _, err := t.sqlTx.Exec(fmt.Sprintf(`DELETE FROM %q WHERE docid = ?`, idx.backing), rowid); err != nil {
			return t.check(err)
		}
		if err := s.insertFTSRow(t, idx.backing, idx.paths, rowid, stored); err != nil {
			return err
		}
	}
	return nil
}

// deleteFTSRows drops the full-text entries of a removed record.
func (s *sqliteKeyStore) deleteFTSRows(t *Transaction, rowid int64) error {
	list, err := s.ftsIndexes(t.sqlTx)
	if err != nil {
		return t.check(err)
	}
	for _, idx := range list {
		if _, err := t.sqlTx.Exec(fmt.Sprintf(`DELETE FROM %q WHERE docid = ?`, idx.backing), rowid); err != nil {
			return t.check(err)
		}
	}
	return nil
}
