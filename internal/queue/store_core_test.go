package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestDSNCarriesPragmas(t *testing.T) {
	got := dsn("/var/lib/relay/queue.db")
	want := "file:/var/lib/relay/queue.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)"
	if got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}

func TestPragmasApplyToEveryConnection(t *testing.T) {
	store, err := OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	store.db.SetMaxOpenConns(4)

	ctx := context.Background()
	conns := make([]interface{ Close() error }, 0, 3)
	for range 3 {
		conn, err := store.db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn: %v", err)
		}
		conns = append(conns, conn)
		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("read busy_timeout: %v", err)
		}
		if timeout != 5000 {
			t.Fatalf("busy_timeout = %d on a pooled connection", timeout)
		}
	}
	for _, conn := range conns {
		conn.Close()
	}
}

func TestIsBusy(t *testing.T) {
	if !isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected locked message to count as busy")
	}
	if isBusy(errors.New("constraint failed")) {
		t.Fatal("unexpected busy match")
	}
}
