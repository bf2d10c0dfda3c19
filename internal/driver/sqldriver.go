package driver

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// SQLDriver adapts any registered database/sql driver to the Driver
// interface. Each Open call creates a dedicated *sql.DB capped at a single
// underlying connection, so the pool manager, not database/sql, owns
// pooling decisions.
type SQLDriver struct {
	driverName string
}

// NewSQLDriver creates a Driver backed by the named database/sql driver
// (e.g. "sqlite3").
func NewSQLDriver(driverName string) *SQLDriver {
	return &SQLDriver{driverName: driverName}
}

// Open establishes one physical connection and verifies it with a ping.
func (d *SQLDriver) Open(ctx context.Context, connString string) (Conn, error) {
	db, err := sql.Open(d.driverName, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.driverName, err)
	}

	// One physical connection per Conn; lifetime is managed by the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to establish %s connection: %w", d.driverName, err)
	}

	return &sqlConn{db: db}, nil
}

type sqlConn struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func (c *sqlConn) Exec(ctx context.Context, query string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	db := c.db
	c.mu.Unlock()

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

func (c *sqlConn) Prepare(ctx context.Context, query string) (Stmt, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	db := c.db
	c.mu.Unlock()

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare failed: %w", err)
	}
	return &sqlStmt{stmt: stmt}, nil
}

func (c *sqlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

type sqlStmt struct {
	stmt *sql.Stmt
}

func (s *sqlStmt) Exec(ctx context.Context) error {
	if _, err := s.stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

func (s *sqlStmt) Close() error {
	return s.stmt.Close()
}
