package docyard

// transaction.go implements per-file single-writer transaction scopes.
//
// A Transaction is a scope object: BeginTransaction enters the critical
// section (waiting on the file's condition variable until the writer slot
// frees) and End applies the transaction's final state. Any guarded
// operation that fails with a storage error flips the state to Abort, so
// the scope unwind rolls the write back.

import "fmt"

// TxState is a transaction's pending outcome.
type TxState int

const (
	// StateCommit commits the transaction when the scope ends.
	StateCommit TxState = iota
	// StateAbort rolls the transaction back when the scope ends.
	StateAbort
	// StateNoOp holds the writer slot without opening an engine
	// transaction; ending it does nothing.
	StateNoOp
)

// Transaction is an exclusive writer scope on one database file. At most
// one non-NoOp Transaction exists per file at a time; concurrent writers
// block in BeginTransaction until the slot frees.
type Transaction struct {
	db    *Database
	state TxState
	sqlTx sqlTxn
	ended bool
}

// sqlTxn is the slice of *sql.Tx the key stores use, split out so writes
// are compile-time restricted to the transaction's connection.
type sqlTxn interface {
	querier
	Commit() error
	Rollback() error
}

// BeginTransaction opens a writer transaction, blocking until the file's
// writer slot is free. Pre-transaction observers are notified before the
// slot is acquired.
func (db *Database) BeginTransaction() (*Transaction, error) {
	t := &Transaction{db: db, state: StateCommit}
	if err := db.beginTransaction(t); err != nil {
		return nil, err
	}
	return t, nil
}

// beginNoOpTransaction holds the writer slot without touching the engine.
// Used to block writers around structural operations like file deletion.
func (db *Database) beginNoOpTransaction() (*Transaction, error) {
	t := &Transaction{db: db, state: StateNoOp}
	if err := db.beginTransaction(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *Database) beginTransaction(t *Transaction) error {
	if db.closed.Load() {
		return ErrDBClosed
	}

	// Observers (one-shot query enumerators) materialize their remaining
	// rows now, before this writer can change the file under them.
	db.file.notifyPreTransaction()

	db.file.mu.Lock()
	for db.file.transaction != nil {
		db.file.cond.Wait()
	}
	db.file.transaction = t
	db.file.mu.Unlock()

	if t.state == StateCommit {
		sqlTx, err := db.sql.Begin()
		if err != nil {
			db.releaseTransactionSlot(t)
			return fmt.Errorf("docyard: begin transaction: %w", err)
		}
		t.sqlTx = sqlTx
		db.log.Debugf("[txn] begin on %s", db.file.path)
	}
	return nil
}

func (db *Database) releaseTransactionSlot(t *Transaction) {
	db.file.mu.Lock()
	if db.file.transaction == t {
		db.file.transaction = nil
		db.file.cond.Signal()
	}
	db.file.mu.Unlock()
}

// endTransaction applies t's state. A commit error surfaces only after
// the writer slot is released, so a failed commit cannot starve other
// writers.
func (db *Database) endTransaction(t *Transaction) error {
	var commitErr error
	switch t.state {
	case StateCommit:
		commitErr = t.sqlTx.Commit()
		db.log.Debugf("[txn] commit on %s", db.file.path)
	case StateAbort:
		// Nothing useful to do with a rollback failure.
		_ = t.sqlTx.Rollback()
		db.log.Debugf("[txn] abort on %s", db.file.path)
	case StateNoOp:
	}
	t.sqlTx = nil

	db.releaseTransactionSlot(t)

	if commitErr != nil {
		return fmt.Errorf("docyard: commit: %w", commitErr)
	}
	return nil
}

// State returns the transaction's pending outcome.
func (t *Transaction) State() TxState { return t.state }

// Abort marks the transaction to roll back when it ends.
func (t *Transaction) Abort() {
	if t.state == StateCommit {
		t.state = StateAbort
	}
}

// End leaves the writer scope, applying the pending state. Safe to defer;
// calling it twice is a no-op.
func (t *Transaction) End() error {
	if t.ended {
		return nil
	}
	t.ended = true
	return t.db.endTransaction(t)
}

// check records a failed guarded operation: any storage error flips the
// pending state to Abort before propagating.
func (t *Transaction) check(err error) error {
	if err != nil {
		t.Abort()
	}
	return err
}
