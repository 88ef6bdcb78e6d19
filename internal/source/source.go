// Package source abstracts the connection to the external accounting engine.
//
// The engine speaks a row-oriented query protocol: one query opens a cursor
// for the whole date window, and pages are produced by repeatedly draining
// that cursor in bounded chunks. There is no query-side pagination and no
// reliable row-count query.
package source

import (
	"context"
)

// Row is one fixed-position tuple from the source. Indices correspond to
// the requested projection; see the VoucherColumns constants.
type Row []interface{}

// Cursor drains one open query in pages.
type Cursor interface {
	// FetchPage returns up to n rows. An empty slice means the cursor is
	// exhausted. Calls can block for minutes against a slow source.
	FetchPage(n int) ([]Row, error)

	// Close releases the cursor.
	Close() error
}

// Connection is one live session against the external source.
type Connection interface {
	// Query issues a statement and returns an open cursor. Blocks until
	// the source starts producing.
	Query(ctx context.Context, stmt string) (Cursor, error)

	// Close releases the session.
	Close() error
}

// Connector establishes connections from an opaque source handle (for the
// ODBC implementation, a DSN).
type Connector interface {
	Connect(ctx context.Context, sourceHandle string) (Connection, error)
}
