package docyard

// sqlite.go wires the underlying SQLite engine: per-database driver
// registration with the document SQL functions, the per-path file
// singleton used to serialize writers, and the base schema.

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/aalhour/docyard/internal/rowcodec"
)

// dbFile is the process-wide singleton for one filesystem path. It owns
// the writer slot: at most one non-NoOp transaction is active per file,
// and the pre-transaction observer list is walked before each writer
// acquires the slot. Two Database instances on the same path share the
// same dbFile and therefore serialize writes.
type dbFile struct {
	path string

	mu          sync.Mutex
	cond        *sync.Cond
	transaction *Transaction

	observers []PreTransactionObserver
	notifying bool
}

var (
	fileMapMu sync.Mutex
	fileMap   = make(map[string]*dbFile)
)

// fileForPath returns the singleton dbFile for path, creating it on first
// use. Files live until process exit.
func fileForPath(path string) *dbFile {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	fileMapMu.Lock()
	defer fileMapMu.Unlock()
	f := fileMap[path]
	if f == nil {
		f = &dbFile{path: path}
		f.cond = sync.NewCond(&f.mu)
		fileMap[path] = f
	}
	return f
}

// PreTransactionObserver is notified synchronously immediately before a
// writer acquires the file's transaction slot. Observers must complete
// before the writer proceeds. Registering a new observer from inside a
// notification is forbidden; de-registration is allowed and takes effect
// immediately.
type PreTransactionObserver interface {
	PreTransaction()
}

func (f *dbFile) addPreTransactionObserver(obs PreTransactionObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifying {
		panic("docyard: observer registered during pre-transaction notification")
	}
	f.observers = append(f.observers, obs)
}

func (f *dbFile) removePreTransactionObserver(obs PreTransactionObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.observers {
		if o == obs {
			f.observers = append(f.observers[:i], f.observers[i+1:]...)
			return
		}
	}
}

// notifyPreTransaction walks the observer list. The list is snapshotted so
// an observer may de-register itself mid-walk; de-registered observers are
// skipped.
func (f *dbFile) notifyPreTransaction() {
	f.mu.Lock()
	f.notifying = true
	snapshot := make([]PreTransactionObserver, len(f.observers))
	copy(snapshot, f.observers)
	f.mu.Unlock()

	for _, obs := range snapshot {
		f.mu.Lock()
		registered := false
		for _, o := range f.observers {
			if o == obs {
				registered = true
				break
			}
		}
		f.mu.Unlock()
		if registered {
			obs.PreTransaction()
		}
	}

	f.mu.Lock()
	f.notifying = false
	f.mu.Unlock()
}

// docFuncs holds the state behind the SQL functions registered on each
// connection of one Database: the document shared-keys dictionary used to
// encode container values, and the query-context depth that makes
// doc_value lenient while a query enumerator is recording rows.
type docFuncs struct {
	documentKeys *rowcodec.SharedKeys
	queryDepth   atomic.Int32
}

func (fn *docFuncs) enterQueryContext() { fn.queryDepth.Add(1) }
func (fn *docFuncs) exitQueryContext()  { fn.queryDepth.Add(-1) }
func (fn *docFuncs) inQueryContext() bool {
	return fn.queryDepth.Load() > 0
}

// docValue extracts the value at path from a stored body. Scalars surface
// as native SQL types; containers come back as rowcodec blobs encoded
// under the database's document keys; missing values are NULL. Inside a
// query context a corrupt body reads as NULL instead of failing the whole
// statement (stale reads during compaction are not worth aborting a query
// for).
func (fn *docFuncs) docValue(body []byte, path string) (any, error) {
	if body == nil {
		return nil, nil
	}
	root, err := parseBody(body)
	if err != nil {
		if fn.inQueryContext() {
			return nil, nil
		}
		return nil, err
	}
	v, ok := walkPath(root, path)
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrCorruptRevisionData, x.String())
		}
		return f, nil
	default:
		blob, err := rowcodec.EncodeValue(nil, v, fn.documentKeys)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRevisionData, err)
		}
		return blob, nil
	}
}

// docExists reports whether the property at path is present.
func (fn *docFuncs) docExists(body []byte, path string) (int64, error) {
	if body == nil {
		return 0, nil
	}
	root, err := parseBody(body)
	if err != nil {
		if fn.inQueryContext() {
			return 0, nil
		}
		return 0, err
	}
	if _, ok := walkPath(root, path); ok {
		return 1, nil
	}
	return 0, nil
}

var driverSeq atomic.Uint64

// registerDriver registers a go-sqlite3 driver whose connections carry the
// database's document SQL functions. Driver names are process-global, so
// each Database registers its own.
func registerDriver(fn *docFuncs) string {
	name := fmt.Sprintf("docyard_sqlite3_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("doc_value", fn.docValue, true); err != nil {
				return err
			}
			return conn.RegisterFunc("doc_exists", fn.docExists, true)
		},
	})
	return name
}

// baseSchema is created on every writable open. Key-store tables are
// created on demand by sqliteKeyStore.createTable.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS kvmeta (
		name    TEXT PRIMARY KEY NOT NULL,
		lastSeq INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS indexes (
		name       TEXT PRIMARY KEY NOT NULL,
		keyStore   TEXT NOT NULL,
		kind       INTEGER NOT NULL,
		expression TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS info (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		publicUUID  BLOB NOT NULL,
		privateUUID BLOB NOT NULL
	)`,
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// store operations can run either inside or outside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// tableExists reports whether a table or virtual table exists in the file.
func tableExists(q querier, name string) (bool, error) {
	var n int
	err := q.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`,
		name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("docyard: table lookup: %w", err)
	}
	return n > 0, nil
}
