package docyard

// database.go implements the database façade: file open/close/compact/
// destroy, the key-store handle cache, and database identity.

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/aalhour/docyard/internal/logging"
	"github.com/aalhour/docyard/internal/rowcodec"
)

// DefaultKeyStoreName is the name of the default key store.
const DefaultKeyStoreName = "default"

// deadStorePrefix names the tombstone half of a logical key store.
const deadStorePrefix = "del_"

// Database is a handle on one document database file. Two Database
// instances opened on the same path share the same file singleton and
// therefore serialize their writers.
//
// The key-store handle cache is not internally synchronized: open key
// stores from a single owning goroutine, or serialize key-store creation
// externally. Operations through already-obtained handles are safe for
// concurrent use.
type Database struct {
	path   string
	opts   *Options
	file   *dbFile
	sql    *sql.DB
	driver string
	fns    *docFuncs
	log    logging.Logger
	closed atomic.Bool

	stores    map[string]*BothKeyStore
	rawStores map[string]*sqliteKeyStore
}

// Open opens (and with opts.CreateIfMissing, creates) the database file at
// path.
func Open(path string, opts *Options) (*Database, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard
	}
	if !opts.BodyCompression.IsSupported() {
		return nil, fmt.Errorf("%w: body compression %s", ErrInvalidParameter, opts.BodyCompression)
	}

	db := &Database{
		path:      path,
		opts:      opts,
		file:      fileForPath(path),
		fns:       &docFuncs{documentKeys: rowcodec.NewSharedKeys()},
		log:       opts.Logger,
		stores:    make(map[string]*BothKeyStore),
		rawStores: make(map[string]*sqliteKeyStore),
	}
	db.driver = registerDriver(db.fns)

	if err := db.open(); err != nil {
		return nil, err
	}
	db.log.Infof("[db] opened %s", path)
	return db, nil
}

// open connects to the file and ensures the base schema.
func (db *Database) open() error {
	mode := "rwc"
	switch {
	case db.opts.ReadOnly:
		mode = "ro"
	case !db.opts.CreateIfMissing:
		mode = "rw"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s&_busy_timeout=10000&_journal_mode=WAL", db.path, mode)
	handle, err := sql.Open(db.driver, dsn)
	if err != nil {
		return fmt.Errorf("docyard: open %s: %w", db.path, err)
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return fmt.Errorf("docyard: open %s: %w", db.path, err)
	}
	db.sql = handle

	if db.opts.ReadOnly {
		return nil
	}
	for _, ddl := range baseSchema {
		if _, err := db.sql.Exec(ddl); err != nil {
			db.sql.Close()
			return fmt.Errorf("docyard: schema: %w", err)
		}
	}
	pub, priv := uuid.New(), uuid.New()
	_, err = db.sql.Exec(`INSERT OR IGNORE INTO info (id, publicUUID, privateUUID) VALUES (1, ?, ?)`,
		pub[:], priv[:])
	if err != nil {
		db.sql.Close()
		return fmt.Errorf("docyard: init identity: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (db *Database) Path() string { return db.path }

// UUIDs returns the database's public and private UUIDs, generated at
// creation and stable across reopens.
func (db *Database) UUIDs() (public, private uuid.UUID, err error) {
	if db.closed.Load() {
		return uuid.Nil, uuid.Nil, ErrDBClosed
	}
	var pub, priv []byte
	err = db.sql.QueryRow(`SELECT publicUUID, privateUUID FROM info WHERE id = 1`).Scan(&pub, &priv)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, uuid.Nil, fmt.Errorf("docyard: database identity missing: %w", ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("docyard: read identity: %w", err)
	}
	if public, err = uuid.FromBytes(pub); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: public UUID: %v", ErrCorruptRevisionData, err)
	}
	if private, err = uuid.FromBytes(priv); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: private UUID: %v", ErrCorruptRevisionData, err)
	}
	return public, private, nil
}

// Info describes a database file.
type Info struct {
	FileSize      int64
	RecordCount   uint64
	LastSequence  uint64
	KeyStoreCount int
}

// Info returns file-level statistics for the default key store.
func (db *Database) Info() (Info, error) {
	if db.closed.Load() {
		return Info{}, ErrDBClosed
	}
	var info Info
	if st, err := os.Stat(db.path); err == nil {
		info.FileSize = st.Size()
	}
	store, err := db.KeyStore(DefaultKeyStoreName)
	if err != nil {
		return Info{}, err
	}
	if info.RecordCount, err = store.RecordCount(false); err != nil {
		return Info{}, err
	}
	if info.LastSequence, err = store.LastSequence(); err != nil {
		return Info{}, err
	}
	info.KeyStoreCount = len(db.stores)
	return info, nil
}

// rawKeyStore opens (cached) a physical store without tombstone routing,
// used for raw-document collections such as checkpoints.
func (db *Database) rawKeyStore(name string) (*sqliteKeyStore, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if s, ok := db.rawStores[name]; ok {
		return s, nil
	}
	s := newSQLiteKeyStore(db, name)
	if !db.opts.ReadOnly {
		if err := s.createTable(); err != nil {
			return nil, err
		}
	}
	db.rawStores[name] = s
	return s, nil
}

// KeyStore opens (cached) the named logical key store: a live/dead pair
// sharing one sequence allocator.
func (db *Database) KeyStore(name string) (*BothKeyStore, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if s, ok := db.stores[name]; ok {
		return s, nil
	}
	live, err := db.rawKeyStore(name)
	if err != nil {
		return nil, err
	}
	dead, err := db.rawKeyStore(deadStorePrefix + name)
	if err != nil {
		return nil, err
	}
	s := newBothKeyStore(live, dead)
	db.stores[name] = s
	return s, nil
}

// DefaultKeyStore opens the default key store.
func (db *Database) DefaultKeyStore() (*BothKeyStore, error) {
	return db.KeyStore(DefaultKeyStoreName)
}

// CloseKeyStore drops the cached handles for the named logical store.
func (db *Database) CloseKeyStore(name string) {
	delete(db.stores, name)
	delete(db.rawStores, name)
	delete(db.rawStores, deadStorePrefix+name)
}

// DeleteKeyStore removes the named logical store and its indexes from the
// file. Must not race active writers on the same store.
func (db *Database) DeleteKeyStore(name string) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	t, err := db.BeginTransaction()
	if err != nil {
		return err
	}
	defer t.End()

	for _, physical := range []string{name, deadStorePrefix + name} {
		table := "kv_" + physical
		rows, err := t.sqlTx.Query(`SELECT name, kind FROM indexes WHERE keyStore = ?`, physical)
		if err != nil {
			return t.check(err)
		}
		type idx struct {
			name string
			kind IndexKind
		}
		var idxs []idx
		for rows.Next() {
			var i idx
			if err := rows.Scan(&i.name, &i.kind); err != nil {
				rows.Close()
				return t.check(err)
			}
			idxs = append(idxs, i)
		}
		rows.Close()
		for _, i := range idxs {
			ddl := fmt.Sprintf(`DROP INDEX IF EXISTS %q`, table+"::"+i.name)
			if i.kind == FullTextIndex {
				ddl = fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table+"::"+i.name)
			}
			if _, err := t.sqlTx.Exec(ddl); err != nil {
				return t.check(err)
			}
		}
		if _, err := t.sqlTx.Exec(`DELETE FROM indexes WHERE keyStore = ?`, physical); err != nil {
			return t.check(err)
		}
		if _, err := t.sqlTx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
			return t.check(err)
		}
		if _, err := t.sqlTx.Exec(`DELETE FROM kvmeta WHERE name = ?`, physical); err != nil {
			return t.check(err)
		}
	}
	db.CloseKeyStore(name)
	db.log.Infof("[db] deleted key store %q", name)
	return t.End()
}

// AddPreTransactionObserver registers obs to be notified before every
// writer on this file begins.
func (db *Database) AddPreTransactionObserver(obs PreTransactionObserver) {
	db.file.addPreTransactionObserver(obs)
}

// RemovePreTransactionObserver de-registers obs.
func (db *Database) RemovePreTransactionObserver(obs PreTransactionObserver) {
	db.file.removePreTransactionObserver(obs)
}

// Compact reclaims free space in the file.
func (db *Database) Compact() error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	if _, err := db.sql.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("docyard: compact: %w", err)
	}
	if _, err := db.sql.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("docyard: compact: %w", err)
	}
	db.log.Infof("[db] compacted %s", db.path)
	return nil
}

// DeleteDatabase destroys the file on disk. A no-op transaction blocks
// writers for the duration. With andReopen the database reopens empty at
// the same path and the handle stays usable.
func (db *Database) DeleteDatabase(andReopen bool) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	t, err := db.beginNoOpTransaction()
	if err != nil {
		return err
	}
	defer t.End()

	if err := db.sql.Close(); err != nil {
		return fmt.Errorf("docyard: close before delete: %w", err)
	}
	db.stores = make(map[string]*BothKeyStore)
	db.rawStores = make(map[string]*sqliteKeyStore)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(db.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("docyard: delete %s: %w", db.path+suffix, err)
		}
	}
	db.log.Infof("[db] destroyed %s", db.path)

	if !andReopen {
		db.closed.Store(true)
		return nil
	}
	return db.open()
}

// Close releases the file handle. Cached key-store handles close with it.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	db.stores = make(map[string]*BothKeyStore)
	db.rawStores = make(map[string]*sqliteKeyStore)
	db.log.Infof("[db] closed %s", db.path)
	return db.sql.Close()
}
