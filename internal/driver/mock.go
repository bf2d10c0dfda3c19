package driver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory Driver for tests. It lets tests inject open failures,
// per-query failures and artificial latency, and tracks how many physical
// connections were opened and closed.
type Mock struct {
	mu sync.Mutex

	// OpenDelay and ExecDelay are applied before every Open / Exec call.
	OpenDelay time.Duration
	ExecDelay time.Duration

	openFailures  int
	openErr       error
	queryFailures map[string]*queryFailure

	opened int
	closed int
}

type queryFailure struct {
	err       error
	remaining int // negative means fail forever
}

// NewMock creates a mock driver that succeeds on every operation.
func NewMock() *Mock {
	return &Mock{
		queryFailures: make(map[string]*queryFailure),
	}
}

// FailOpens makes the next n Open calls fail with err.
func (m *Mock) FailOpens(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openFailures = n
	m.openErr = err
}

// FailQuery makes the next times executions of query fail with err.
// A negative times fails the query until ClearQuery is called.
func (m *Mock) FailQuery(query string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryFailures[query] = &queryFailure{err: err, remaining: times}
}

// ClearQuery removes a previously injected query failure.
func (m *Mock) ClearQuery(query string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queryFailures, query)
}

// Opened returns how many physical connections have been opened.
func (m *Mock) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Closed returns how many physical connections have been closed.
func (m *Mock) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Open implements Driver.
func (m *Mock) Open(ctx context.Context, connString string) (Conn, error) {
	if err := sleepCtx(ctx, m.OpenDelay); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openFailures > 0 {
		m.openFailures--
		err := m.openErr
		if err == nil {
			err = fmt.Errorf("mock open failure")
		}
		return nil, err
	}

	m.opened++
	return &mockConn{driver: m}, nil
}

// checkQuery consumes one injected failure for query, if any.
func (m *Mock) checkQuery(query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	qf, ok := m.queryFailures[query]
	if !ok {
		return nil
	}
	if qf.remaining == 0 {
		delete(m.queryFailures, query)
		return nil
	}
	if qf.remaining > 0 {
		qf.remaining--
		if qf.remaining == 0 {
			defer delete(m.queryFailures, query)
		}
	}
	return qf.err
}

func (m *Mock) connClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

type mockConn struct {
	driver *Mock

	mu     sync.Mutex
	closed bool
	execs  int
}

func (c *mockConn) Exec(ctx context.Context, query string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.execs++
	c.mu.Unlock()

	if err := sleepCtx(ctx, c.driver.ExecDelay); err != nil {
		return err
	}
	return c.driver.checkQuery(query)
}

func (c *mockConn) Prepare(ctx context.Context, query string) (Stmt, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.mu.Unlock()

	if err := c.driver.checkQuery(query); err != nil {
		return nil, err
	}
	return &mockStmt{conn: c, query: query}, nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.driver.connClosed()
	return nil
}

type mockStmt struct {
	conn   *mockConn
	query  string
	mu     sync.Mutex
	closed bool
}

func (s *mockStmt) Exec(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("mock statement is closed")
	}
	s.mu.Unlock()
	return s.conn.Exec(ctx, s.query)
}

func (s *mockStmt) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor an already-expired context.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
