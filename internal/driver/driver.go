// Package driver defines the narrow interface between the pool manager and
// the database it manages connections to.
//
// The pool manager never speaks a wire protocol itself. Everything it needs
// from a database is expressed here: open a physical connection, execute a
// statement, prepare a statement, close. Implementations exist for any
// database/sql driver (see SQLDriver) and for in-memory testing (see Mock).
package driver

import (
	"context"
	"errors"
)

// ErrConnClosed indicates an operation on a connection that was already closed.
var ErrConnClosed = errors.New("driver: connection is closed")

// Driver opens physical database connections.
type Driver interface {
	// Open establishes one physical connection to the endpoint described by
	// connString. The returned Conn is owned exclusively by the caller.
	Open(ctx context.Context, connString string) (Conn, error)
}

// Conn is a single physical database connection.
//
// A Conn is not safe for concurrent use; the pool guarantees a single holder
// at any time.
type Conn interface {
	// Exec runs a statement and discards any result set.
	Exec(ctx context.Context, query string) error

	// Prepare compiles a statement on this connection. Prepared statements
	// are connection-local and become invalid once the Conn is closed.
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Close tears down the physical connection. Close is idempotent.
	Close() error
}

// Stmt is a prepared statement bound to one Conn.
type Stmt interface {
	// Exec runs the prepared statement and discards any result set.
	Exec(ctx context.Context) error

	// Close releases the server-side statement handle.
	Close() error
}
