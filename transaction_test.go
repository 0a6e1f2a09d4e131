package docyard

// transaction_test.go implements tests for transaction scopes and the
// pre-transaction observer bus.

import (
	"sync"
	"testing"
	"time"
)

func TestTransactionAbortRollsBack(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()

	tx, err := db.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	if _, err := store.Set([]byte("k"), nil, []byte(`{}`), 0, tx, nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	tx.Abort()
	if err := tx.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	rec, err := store.Get([]byte("k"), MetaOnly)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Exists() {
		t.Error("aborted write is visible")
	}
	// The allocator rolls back with the transaction.
	if seq, _ := store.LastSequence(); seq != 0 {
		t.Errorf("last sequence after abort = %d, want 0", seq)
	}
}

func TestTransactionEndIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	tx, _ := db.BeginTransaction()
	if err := tx.End(); err != nil {
		t.Fatalf("first End failed: %v", err)
	}
	if err := tx.End(); err != nil {
		t.Fatalf("second End failed: %v", err)
	}
	// The slot is free again.
	tx2, err := db.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction after End failed: %v", err)
	}
	tx2.End()
}

func TestTransactionExclusion(t *testing.T) {
	db := openTestDB(t)

	tx, _ := db.BeginTransaction()

	started := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(started)
		tx2, err := db.BeginTransaction()
		if err != nil {
			t.Errorf("second BeginTransaction failed: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		tx2.End()
	}()

	<-started
	select {
	case <-acquired:
		t.Fatal("second writer acquired the slot while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	tx.End()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second writer never acquired the slot")
	}
}

func TestNoOpTransactionBlocksWriters(t *testing.T) {
	db := openTestDB(t)

	noop, err := db.beginNoOpTransaction()
	if err != nil {
		t.Fatalf("beginNoOpTransaction failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		tx, err := db.BeginTransaction()
		if err == nil {
			tx.End()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("writer got the slot past a no-op transaction")
	case <-time.After(50 * time.Millisecond):
	}
	noop.End()
	<-done
}

// recordingObserver counts pre-transaction notifications and can
// de-register itself mid-notification.
type recordingObserver struct {
	db        *Database
	mu        sync.Mutex
	fired     int
	unregSelf bool
}

func (o *recordingObserver) PreTransaction() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fired++
	if o.unregSelf {
		o.db.RemovePreTransactionObserver(o)
	}
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fired
}

func TestPreTransactionObserverFiresBeforeWriters(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{db: db}
	db.AddPreTransactionObserver(obs)

	tx, _ := db.BeginTransaction()
	tx.End()
	if got := obs.count(); got != 1 {
		t.Errorf("observer fired %d times, want 1", got)
	}

	db.RemovePreTransactionObserver(obs)
	tx, _ = db.BeginTransaction()
	tx.End()
	if got := obs.count(); got != 1 {
		t.Errorf("observer fired after removal: %d", got)
	}
}

func TestPreTransactionObserverSelfRemoval(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{db: db, unregSelf: true}
	db.AddPreTransactionObserver(obs)

	for i := 0; i < 3; i++ {
		tx, _ := db.BeginTransaction()
		tx.End()
	}
	if got := obs.count(); got != 1 {
		t.Errorf("self-removing observer fired %d times, want 1", got)
	}
}
