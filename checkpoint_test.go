package docyard

// checkpoint_test.go implements tests for the replication checkpoint
// stores.

import (
	"errors"
	"strings"
	"testing"
)

func TestLocalCheckpointRoundTrip(t *testing.T) {
	db := openTestDB(t)
	cp := db.Checkpoints()

	id, err := cp.LocalID("wss://peer.example.com/db")
	if err != nil {
		t.Fatalf("LocalID failed: %v", err)
	}
	if !strings.HasPrefix(id, "cp-") {
		t.Errorf("checkpoint ID %q lacks the cp- prefix", id)
	}
	// Derivation is deterministic per (database, remote).
	id2, _ := cp.LocalID("wss://peer.example.com/db")
	if id != id2 {
		t.Error("checkpoint ID not stable")
	}
	other, _ := cp.LocalID("wss://other.example.com/db")
	if id == other {
		t.Error("different remotes derived the same checkpoint ID")
	}

	// Missing checkpoint is an empty result, not an error.
	body, err := cp.GetLocal(id)
	if err != nil {
		t.Fatalf("GetLocal failed: %v", err)
	}
	if body != nil {
		t.Errorf("body = %q before save", body)
	}

	if err := cp.SetLocal(id, []byte(`{"seq":42}`)); err != nil {
		t.Fatalf("SetLocal failed: %v", err)
	}
	body, err = cp.GetLocal(id)
	if err != nil {
		t.Fatalf("GetLocal failed: %v", err)
	}
	if string(body) != `{"seq":42}` {
		t.Errorf("body = %q", body)
	}
}

func TestPeerCheckpointRevisions(t *testing.T) {
	db := openTestDB(t)
	cp := db.Checkpoints()

	if _, _, err := cp.GetPeer("client-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPeer on missing checkpoint = %v, want ErrNotFound", err)
	}

	// First write: no stored revision, client sends none.
	rev, err := cp.SetPeer("client-1", "", []byte(`{"seq":1}`))
	if err != nil {
		t.Fatalf("SetPeer failed: %v", err)
	}
	if rev != "1-cc" {
		t.Errorf("first revision = %q, want 1-cc", rev)
	}

	// Writing with a stale (empty) revision conflicts.
	if _, err := cp.SetPeer("client-1", "", nil); !errors.Is(err, ErrCheckpointConflict) {
		t.Errorf("stale write error = %v, want ErrCheckpointConflict", err)
	}

	// Writing with the current revision advances the generation.
	rev, err = cp.SetPeer("client-1", rev, []byte(`{"seq":2}`))
	if err != nil {
		t.Fatalf("second SetPeer failed: %v", err)
	}
	if rev != "2-cc" {
		t.Errorf("second revision = %q, want 2-cc", rev)
	}

	gotRev, body, err := cp.GetPeer("client-1")
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if gotRev != "2-cc" || string(body) != `{"seq":2}` {
		t.Errorf("GetPeer = %q %q", gotRev, body)
	}
}

func TestParseCheckpointRevStrictness(t *testing.T) {
	good := map[string]uint64{
		"1-cc":   1,
		"42-cc":  42,
		"999-cc": 999,
	}
	for rev, want := range good {
		gen, err := parseCheckpointRev(rev)
		if err != nil || gen != want {
			t.Errorf("parseCheckpointRev(%q) = %d, %v", rev, gen, err)
		}
	}

	bad := []string{"", "-cc", "cc", "12", "x-cc", "12-cc-extra", "12-CC", " 12-cc", "0x2-cc"}
	for _, rev := range bad {
		if _, err := parseCheckpointRev(rev); !errors.Is(err, ErrCorruptRevisionData) {
			t.Errorf("parseCheckpointRev(%q) error = %v, want ErrCorruptRevisionData", rev, err)
		}
	}
}
