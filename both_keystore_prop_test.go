package docyard

// both_keystore_prop_test.go drives random operation sequences against
// the live/dead federation and checks its structural invariants.

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// bothOp is one randomized write: set key live, set it deleted, or purge
// it entirely.
type bothOp struct {
	Key    uint8
	Action uint8 // 0 = set live, 1 = set deleted, 2 = purge
}

func genBothOps() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(bothOp{}), map[string]gopter.Gen{
		"Key":    gen.UInt8Range(0, 15),
		"Action": gen.UInt8Range(0, 2),
	}))
}

func TestBothKeyStoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("live XOR dead, counts add up, merge is sorted and unique", prop.ForAll(
		func(ops []bothOp) bool {
			db, err := Open(filepath.Join(t.TempDir(), "prop.db"), DefaultOptions())
			if err != nil {
				return false
			}
			defer db.Close()
			store, err := db.DefaultKeyStore()
			if err != nil {
				return false
			}

			// Model: key -> deleted?, tracking the surviving records.
			model := make(map[string]bool)
			tx, err := db.BeginTransaction()
			if err != nil {
				return false
			}
			for _, op := range ops {
				key := fmt.Sprintf("k%02d", op.Key)
				switch op.Action {
				case 0:
					if _, err := store.Set([]byte(key), nil, []byte(`{}`), 0, tx, nil); err != nil {
						return false
					}
					model[key] = false
				case 1:
					if _, err := store.Set([]byte(key), nil, nil, FlagDeleted, tx, nil); err != nil {
						return false
					}
					model[key] = true
				case 2:
					if _, err := store.Del([]byte(key), tx, 0); err != nil {
						return false
					}
					delete(model, key)
				}
			}
			if err := tx.End(); err != nil {
				return false
			}

			// Invariant: each key is in exactly one sub-store, matching the
			// model.
			for key, deleted := range model {
				liveRec, err := store.LiveStore().Get([]byte(key), MetaOnly)
				if err != nil {
					return false
				}
				deadRec, err := store.DeadStore().Get([]byte(key), MetaOnly)
				if err != nil {
					return false
				}
				if liveRec.Exists() == deadRec.Exists() {
					return false // in both or in neither
				}
				if deadRec.Exists() != deleted {
					return false
				}
			}

			// Invariant: recordCount(true) = recordCount(false) + |dead|.
			all, err := store.RecordCount(true)
			if err != nil {
				return false
			}
			live, err := store.RecordCount(false)
			if err != nil {
				return false
			}
			dead, err := store.DeadStore().RecordCount(true)
			if err != nil {
				return false
			}
			if all != live+dead || all != uint64(len(model)) {
				return false
			}

			// Invariant: the merged enumeration yields every surviving key
			// exactly once, in ascending key order.
			e, err := store.NewEnumerator(false, 0, EnumeratorOptions{Sort: Ascending, IncludeDeleted: true})
			if err != nil {
				return false
			}
			defer e.Close()
			var got []string
			for e.Next() {
				got = append(got, string(e.Key()))
			}
			if e.Err() != nil {
				return false
			}
			want := make([]string, 0, len(model))
			for key := range model {
				want = append(want, key)
			}
			sort.Strings(want)
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		genBothOps(),
	))

	properties.TestingRun(t)
}
