package driver

import (
	"context"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMockOpenFailures(t *testing.T) {
	m := NewMock()
	injected := errors.New("connection refused")
	m.FailOpens(2, injected)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.Open(ctx, ":memory:"); !errors.Is(err, injected) {
			t.Fatalf("Open %d: expected injected error, got %v", i, err)
		}
	}

	conn, err := m.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open after failures drained: %v", err)
	}
	defer conn.Close()

	if m.Opened() != 1 {
		t.Errorf("Expected 1 opened connection, got %d", m.Opened())
	}
}

func TestMockQueryFailures(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	conn, err := m.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	injected := errors.New("table locked")
	m.FailQuery("SELECT 1", injected, 2)

	for i := 0; i < 2; i++ {
		if err := conn.Exec(ctx, "SELECT 1"); !errors.Is(err, injected) {
			t.Fatalf("Exec %d: expected injected error, got %v", i, err)
		}
	}
	if err := conn.Exec(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Exec after failures drained: %v", err)
	}

	// Other queries are unaffected.
	m.FailQuery("SELECT 2", injected, -1)
	if err := conn.Exec(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Unrelated query failed: %v", err)
	}
	if err := conn.Exec(ctx, "SELECT 2"); !errors.Is(err, injected) {
		t.Fatalf("Expected persistent failure, got %v", err)
	}
	m.ClearQuery("SELECT 2")
	if err := conn.Exec(ctx, "SELECT 2"); err != nil {
		t.Fatalf("Exec after ClearQuery: %v", err)
	}
}

func TestMockClosedConn(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	conn, err := m.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Second Close should be idempotent: %v", err)
	}
	if m.Closed() != 1 {
		t.Errorf("Expected 1 closed connection, got %d", m.Closed())
	}

	if err := conn.Exec(ctx, "SELECT 1"); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Expected ErrConnClosed, got %v", err)
	}
	if _, err := conn.Prepare(ctx, "SELECT 1"); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Expected ErrConnClosed from Prepare, got %v", err)
	}
}

func TestSQLDriverRoundTrip(t *testing.T) {
	d := NewSQLDriver("sqlite3")
	ctx := context.Background()

	conn, err := d.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if err := conn.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	stmt, err := conn.Prepare(ctx, "INSERT INTO t (id) VALUES (1)")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := stmt.Exec(ctx); err != nil {
		t.Fatalf("Stmt exec: %v", err)
	}
	if err := stmt.Close(); err != nil {
		t.Fatalf("Stmt close: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Exec(ctx, "SELECT 1"); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Expected ErrConnClosed after close, got %v", err)
	}
}
