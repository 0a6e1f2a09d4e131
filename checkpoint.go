package docyard

// checkpoint.go implements the raw-document checkpoint storage consumed by
// the replication layer: one store for this database's own checkpoints and
// one for checkpoints peers have saved here.
//
// A checkpoint revision is "<generation>-cc" with a strictly decimal
// generation. Writes are get-then-put under one transaction; a client
// revision that does not match the stored one is a conflict.

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	localCheckpointStore = "checkpoints"
	peerCheckpointStore  = "peerCheckpoints"

	checkpointRevSuffix = "-cc"
	checkpointIDPrefix  = "cp-"
)

// Checkpoints is the raw-document checkpoint interface of one database.
type Checkpoints struct {
	db *Database
}

// Checkpoints returns the database's checkpoint storage.
func (db *Database) Checkpoints() *Checkpoints { return &Checkpoints{db: db} }

// LocalID derives the default checkpoint document ID for a remote:
// "cp-" + base64(SHA1(privateUUID || remoteURL)). An explicit ID from
// configuration takes precedence over this derivation.
func (c *Checkpoints) LocalID(remoteURL string) (string, error) {
	_, private, err := c.db.UUIDs()
	if err != nil {
		return "", fmt.Errorf("docyard: checkpoint ID: %w", err)
	}
	h := sha1.New()
	h.Write(private[:])
	h.Write([]byte(remoteURL))
	return checkpointIDPrefix + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// GetLocal reads this database's checkpoint body for id. A missing
// checkpoint is an empty result, not an error.
func (c *Checkpoints) GetLocal(id string) ([]byte, error) {
	store, err := c.db.rawKeyStore(localCheckpointStore)
	if err != nil {
		return nil, err
	}
	rec, err := store.Get([]byte(id), WholeBody)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Body, nil
}

// SetLocal saves this database's own checkpoint body under id.
func (c *Checkpoints) SetLocal(id string, body []byte) error {
	store, err := c.db.rawKeyStore(localCheckpointStore)
	if err != nil {
		return err
	}
	t, err := c.db.BeginTransaction()
	if err != nil {
		return err
	}
	defer t.End()
	if _, err := store.Set([]byte(id), nil, body, 0, t, nil); err != nil {
		return err
	}
	c.db.log.Infof("[checkpoint] saved local checkpoint %s", id)
	return t.End()
}

// GetPeer reads a peer's checkpoint, returning its revision and body.
// A missing checkpoint is ErrNotFound.
func (c *Checkpoints) GetPeer(id string) (rev string, body []byte, err error) {
	store, err := c.db.rawKeyStore(peerCheckpointStore)
	if err != nil {
		return "", nil, err
	}
	rec, err := store.Get([]byte(id), WholeBody)
	if err != nil {
		return "", nil, err
	}
	if rec == nil {
		return "", nil, fmt.Errorf("docyard: checkpoint %q: %w", id, ErrNotFound)
	}
	return string(rec.Version), rec.Body, nil
}

// SetPeer stores a peer's checkpoint. clientRev must equal the stored
// revision ("" when the checkpoint is new); on mismatch the write fails
// with ErrCheckpointConflict. The new revision is returned.
func (c *Checkpoints) SetPeer(id, clientRev string, body []byte) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty checkpoint ID", ErrInvalidParameter)
	}
	store, err := c.db.rawKeyStore(peerCheckpointStore)
	if err != nil {
		return "", err
	}

	t, err := c.db.BeginTransaction()
	if err != nil {
		return "", err
	}
	defer t.End()

	rec, err := store.Get([]byte(id), MetaOnly)
	if err != nil {
		return "", err
	}
	var storedRev string
	var generation uint64
	if rec != nil {
		storedRev = string(rec.Version)
		if generation, err = parseCheckpointRev(storedRev); err != nil {
			return "", err
		}
	}
	if clientRev != storedRev {
		return "", fmt.Errorf("docyard: checkpoint %q: %w", id, ErrCheckpointConflict)
	}

	newRev := strconv.FormatUint(generation+1, 10) + checkpointRevSuffix
	if _, err := store.Set([]byte(id), []byte(newRev), body, 0, t, nil); err != nil {
		return "", err
	}
	if err := t.End(); err != nil {
		return "", err
	}
	c.db.log.Infof("[checkpoint] saved peer checkpoint %s rev %s", id, newRev)
	return newRev, nil
}

// parseCheckpointRev parses a "<decimal>-cc" revision strictly; anything
// else in the store is corrupt.
func parseCheckpointRev(rev string) (uint64, error) {
	digits, ok := strings.CutSuffix(rev, checkpointRevSuffix)
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: checkpoint revision %q", ErrCorruptRevisionData, rev)
	}
	gen, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: checkpoint revision %q", ErrCorruptRevisionData, rev)
	}
	return gen, nil
}
