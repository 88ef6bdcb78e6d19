package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/alexbrainman/odbc"
)

// DefaultConnectTimeout bounds the connection attempt. Connectivity
// failures surface after this timeout; they are never downgraded.
const DefaultConnectTimeout = 30 * time.Second

// ODBCConnector connects to the accounting engine's ODBC server.
type ODBCConnector struct {
	// ConnectTimeout overrides DefaultConnectTimeout when positive.
	ConnectTimeout time.Duration
}

// Connect opens a session against the DSN named by sourceHandle.
func (c *ODBCConnector) Connect(ctx context.Context, sourceHandle string) (Connection, error) {
	if sourceHandle == "" {
		return nil, fmt.Errorf("source handle is required")
	}

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	db, err := sql.Open("odbc", "DSN="+sourceHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", sourceHandle, err)
	}

	// The driver connects lazily; force the attempt now under a bounded
	// timeout so an unreachable engine fails the job here, not mid-fetch.
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach source %s: %w", sourceHandle, err)
	}

	// A single connection mirrors the engine's one-cursor session model.
	db.SetMaxOpenConns(1)

	return &odbcConnection{db: db, handle: sourceHandle}, nil
}

type odbcConnection struct {
	db     *sql.DB
	handle string
}

func (c *odbcConnection) Query(ctx context.Context, stmt string) (Cursor, error) {
	rows, err := c.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query against %s failed: %w", c.handle, err)
	}

	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read columns from %s: %w", c.handle, err)
	}

	return &odbcCursor{rows: rows, width: len(cols)}, nil
}

func (c *odbcConnection) Close() error {
	return c.db.Close()
}

type odbcCursor struct {
	rows  *sql.Rows
	width int
	done  bool
}

func (c *odbcCursor) FetchPage(n int) ([]Row, error) {
	if c.done || n <= 0 {
		return nil, nil
	}

	page := make([]Row, 0, n)
	for len(page) < n {
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return page, fmt.Errorf("fetch failed: %w", err)
			}
			break
		}

		values := make([]interface{}, c.width)
		ptrs := make([]interface{}, c.width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return page, fmt.Errorf("scan failed: %w", err)
		}
		page = append(page, Row(values))
	}

	return page, nil
}

func (c *odbcCursor) Close() error {
	return c.rows.Close()
}
