package sqlstore

import "testing"

func TestOpenRejectsBadInputs(t *testing.T) {
	if _, err := Open("sqlite3", " "); err == nil {
		t.Fatalf("expected empty dsn to be rejected")
	}
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected unsupported driver to be rejected")
	}
}

func TestOpenNormalizesDriverNames(t *testing.T) {
	for _, driver := range []string{"sqlite", "sqlite3", " SQLite3 "} {
		db, err := Open(driver, "file::memory:?cache=shared")
		if err != nil {
			t.Fatalf("open %q: %v", driver, err)
		}
		if db == nil {
			t.Fatalf("expected bun db for %q", driver)
		}
		db.Close()
	}
}
