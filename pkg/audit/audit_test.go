package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Driver: DriverSQLite, StateDir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSQLiteFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Driver: DriverSQLite, StateDir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Record(context.Background(), Record{Category: CategoryPairing, Action: "approved"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	path := filepath.Join(dir, "audit.db")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected sqlite file at %s: %v", path, err)
	}
}

func TestRecordAndQuery(t *testing.T) {
	s := openTestSink(t)
	ctx := context.Background()

	cases := []Record{
		{Category: CategoryPairing, Action: "approved", Channel: "telegram", Actor: "op1"},
		{Category: CategoryExec, Action: "exec.finished", SessionKey: "telegram:acct:dm:u1", Detail: "exit=0"},
		{Category: CategoryApproval, Action: "allow-and-add", SessionKey: "telegram:acct:dm:u1"},
	}
	for _, r := range cases {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record(%+v): %v", r, err)
		}
	}

	all, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != len(cases) {
		t.Fatalf("expected %d rows, got %d", len(cases), len(all))
	}

	execOnly, err := s.Query(ctx, Filter{Category: CategoryExec})
	if err != nil {
		t.Fatalf("Query(exec): %v", err)
	}
	if len(execOnly) != 1 || execOnly[0].Action != "exec.finished" {
		t.Fatalf("unexpected exec filter result: %+v", execOnly)
	}

	bySession, err := s.Query(ctx, Filter{SessionKey: "telegram:acct:dm:u1"})
	if err != nil {
		t.Fatalf("Query(session): %v", err)
	}
	if len(bySession) != 2 {
		t.Fatalf("expected 2 rows for session, got %d", len(bySession))
	}
}

func TestQuerySinceExcludesOlderRows(t *testing.T) {
	s := openTestSink(t)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	if err := s.Record(ctx, Record{Category: CategoryAuth, Action: "login", Time: past}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, Record{Category: CategoryAuth, Action: "login"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recent, err := s.Query(ctx, Filter{Since: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent row, got %d", len(recent))
	}
}

func TestOpenRejectsMissingDSNForNetworkDrivers(t *testing.T) {
	if _, err := Open(Config{Driver: DriverPostgres}); err == nil {
		t.Fatal("expected error for postgres without DSN")
	}
	if _, err := Open(Config{Driver: DriverMySQL}); err == nil {
		t.Fatal("expected error for mysql without DSN")
	}
}
