package docyard

// query_test.go implements tests for query compilation, parameter
// binding, and full-text lookup.

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// seedPeople writes n person documents: {"name":"p<i>","age":<i>}.
func seedPeople(t *testing.T, db *Database, store *BothKeyStore, n int) {
	t.Helper()
	tx, err := db.BeginTransaction()
	if err != nil {
		t.Fatalf("BeginTransaction failed: %v", err)
	}
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"name":"p%03d","age":%d}`, i, i)
		if _, err := store.Set([]byte(fmt.Sprintf("p%03d", i)), nil, []byte(body), 0, tx, nil); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := tx.End(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestQueryBasicSelect(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 10)

	q, err := store.CompileQuery([]byte(
		`{"WHAT": [[".name"]], "WHERE": ["<", [".age"], 3], "ORDER_BY": [[".name"]]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()

	if q.ColumnCount() != 1 {
		t.Errorf("ColumnCount = %d, want 1", q.ColumnCount())
	}
	if titles := q.ColumnTitles(); len(titles) != 1 || titles[0] != "name" {
		t.Errorf("ColumnTitles = %v", titles)
	}

	e, err := q.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer e.Close()

	var names []string
	for {
		ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		name, ok := e.Column(0).(string)
		if !ok {
			t.Fatalf("column 0 = %T, want string", e.Column(0))
		}
		names = append(names, name)
	}
	if !equalStrings(names, []string{"p000", "p001", "p002"}) {
		t.Errorf("names = %v", names)
	}
}

func TestQueryParameters(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 10)

	q, err := store.CompileQuery([]byte(
		`{"WHAT": [["._id"]], "WHERE": ["=", [".age"], ["$age"]]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()

	e, err := q.Run(&QueryOptions{ParamBindings: []byte(`{"age": 7}`)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer e.Close()
	n, err := e.RowCount()
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RowCount = %d, want 1", n)
	}
	if ok, _ := e.Next(); !ok {
		t.Fatal("no row")
	}

	// An unknown parameter name is rejected.
	if _, err := q.Run(&QueryOptions{ParamBindings: []byte(`{"age": 7, "bogus": 1}`)}); !errors.Is(err, ErrInvalidQueryParam) {
		t.Errorf("unknown parameter error = %v, want ErrInvalidQueryParam", err)
	}

	// Unbound parameters read as NULL: the query runs, matching nothing.
	e2, err := q.Run(nil)
	if err != nil {
		t.Fatalf("Run without bindings failed: %v", err)
	}
	defer e2.Close()
	if n, _ := e2.RowCount(); n != 0 {
		t.Errorf("unbound parameter matched %d rows", n)
	}
}

func TestQueryOptionalParameters(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 3)

	// opt_ parameters are not required; leaving them unbound is fine.
	q, err := store.CompileQuery([]byte(
		`{"WHAT": [["._id"]], "WHERE": ["OR", ["=", [".age"], ["$opt_age"]], [">=", [".age"], 0]]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()
	e, err := q.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer e.Close()
	if n, _ := e.RowCount(); n != 3 {
		t.Errorf("RowCount = %d, want 3", n)
	}
}

func TestQueryMetaColumnsAndLimit(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 10)

	q, err := store.CompileQuery([]byte(
		`{"WHAT": [["._id"], ["._sequence"]], "ORDER_BY": [["DESC", ["._sequence"]]], "LIMIT": 2, "OFFSET": 1}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()
	e, err := q.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer e.Close()

	var got []string
	for {
		ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, fmt.Sprintf("%v@%v", e.Column(0), e.Column(1)))
	}
	if !equalStrings(got, []string{"p008@9", "p007@8"}) {
		t.Errorf("rows = %v", got)
	}
}

func TestQueryColumnAlias(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 1)

	q, err := store.CompileQuery([]byte(`{"WHAT": [["AS", [".age"], "years"]]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()
	if titles := q.ColumnTitles(); len(titles) != 1 || titles[0] != "years" {
		t.Errorf("ColumnTitles = %v", titles)
	}
}

func TestQueryExplain(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 1)

	selector := `{"WHAT": [[".name"]]}`
	q, err := store.CompileQuery([]byte(selector))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()
	plan, err := q.Explain()
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if !strings.Contains(plan, "SELECT") {
		t.Errorf("explain output lacks the SQL:\n%s", plan)
	}
	if !strings.Contains(plan, selector) {
		t.Errorf("explain output lacks the selector:\n%s", plan)
	}
}

func TestQueryMatchRequiresIndex(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 1)

	_, err := store.CompileQuery([]byte(
		`{"WHAT": [["._id"]], "WHERE": ["MATCH", "byText", "fox"]}`))
	if !errors.Is(err, ErrNoSuchIndex) {
		t.Errorf("MATCH without index error = %v, want ErrNoSuchIndex", err)
	}
}

func seedFTS(t *testing.T, db *Database, store *BothKeyStore) {
	t.Helper()
	tx, _ := db.BeginTransaction()
	docs := map[string]string{
		"doc1": `{"text": "the quick brown fox jumps over the lazy dog"}`,
		"doc2": `{"text": "a lazy afternoon nap"}`,
		"doc3": `{"text": "nothing to see here"}`,
	}
	for id, body := range docs {
		if _, err := store.Set([]byte(id), nil, []byte(body), 0, tx, nil); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := store.CreateIndex("byText", FullTextIndex, []string{"text"}, tx); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	if err := tx.End(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestQueryFullText(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedFTS(t, db, store)

	q, err := store.CompileQuery([]byte(
		`{"WHAT": [["._id"]], "WHERE": ["MATCH", "byText", "lazy"]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()

	e, err := q.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer e.Close()
	if !e.HasFullText() {
		t.Error("HasFullText = false for a MATCH query")
	}

	matches := 0
	for {
		ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		matches++

		terms, err := e.FullTextTerms()
		if err != nil {
			t.Fatalf("FullTextTerms failed: %v", err)
		}
		if len(terms) != 1 {
			t.Fatalf("terms = %v, want exactly one per row", terms)
		}
		term := terms[0]
		if term.KeyIndex != 0 || term.ByteLength != uint32(len("lazy")) {
			t.Errorf("term = %+v", term)
		}

		text, err := q.MatchedText(term)
		if err != nil {
			t.Fatalf("MatchedText failed: %v", err)
		}
		span := string(text[term.ByteOffset : term.ByteOffset+term.ByteLength])
		if span != "lazy" {
			t.Errorf("matched span = %q, want %q", span, "lazy")
		}
	}
	if matches != 2 {
		t.Errorf("matched %d rows, want 2", matches)
	}
}

func TestFullTextIndexFollowsWrites(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedFTS(t, db, store)

	q, err := store.CompileQuery([]byte(
		`{"WHAT": [["._id"]], "WHERE": ["MATCH", "byText", "zebra"]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()

	countRows := func() int64 {
		t.Helper()
		e, err := q.Run(nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		defer e.Close()
		n, err := e.RowCount()
		if err != nil {
			t.Fatalf("RowCount failed: %v", err)
		}
		return n
	}

	if n := countRows(); n != 0 {
		t.Fatalf("zebra matches = %d before insert", n)
	}

	tx, _ := db.BeginTransaction()
	store.Set([]byte("doc4"), nil, []byte(`{"text": "a zebra crossing"}`), 0, tx, nil)
	tx.End()
	if n := countRows(); n != 1 {
		t.Errorf("zebra matches = %d after insert, want 1", n)
	}

	tx, _ = db.BeginTransaction()
	store.Del([]byte("doc4"), tx, 0)
	tx.End()
	if n := countRows(); n != 0 {
		t.Errorf("zebra matches = %d after delete, want 0", n)
	}
}

func TestValueIndexSpeedsLookups(t *testing.T) {
	db := openTestDB(t)
	store, _ := db.DefaultKeyStore()
	seedPeople(t, db, store, 20)

	tx, _ := db.BeginTransaction()
	if err := store.CreateIndex("byAge", ValueIndex, []string{"age"}, tx); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	// Creating the same index again is a no-op; a clashing definition is
	// an error.
	if err := store.CreateIndex("byAge", ValueIndex, []string{"age"}, tx); err != nil {
		t.Errorf("re-creating identical index: %v", err)
	}
	if err := store.CreateIndex("byAge", ValueIndex, []string{"name"}, tx); !errors.Is(err, ErrIndexExists) {
		t.Errorf("clashing index error = %v, want ErrIndexExists", err)
	}
	tx.End()

	if names, _ := store.IndexNames(); !equalStrings(names, []string{"byAge"}) {
		t.Errorf("IndexNames = %v", names)
	}

	q, err := store.CompileQuery([]byte(`{"WHAT": [["._id"]], "WHERE": ["=", [".age"], 12]}`))
	if err != nil {
		t.Fatalf("CompileQuery failed: %v", err)
	}
	defer q.Close()
	plan, err := q.Explain()
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if !strings.Contains(plan, "byAge") {
		t.Errorf("query plan does not use the index:\n%s", plan)
	}

	tx, _ = db.BeginTransaction()
	if err := store.DeleteIndex("byAge", tx); err != nil {
		t.Fatalf("DeleteIndex failed: %v", err)
	}
	if err := store.DeleteIndex("byAge", tx); !errors.Is(err, ErrNoSuchIndex) {
		t.Errorf("deleting a missing index error = %v, want ErrNoSuchIndex", err)
	}
	tx.End()
}
