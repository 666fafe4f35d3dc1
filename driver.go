package ascend

import (
	"context"
	"time"
)

// Statement is one executable SQL statement produced by a StatementBuilder.
type Statement struct {
	SQL string

	// MustExecuteInTransaction is false for statements the dialect cannot
	// run inside a transaction (e.g. CREATE INDEX CONCURRENTLY).
	MustExecuteInTransaction bool
}

// StatementBuilder splits a script body into executable statements.
// Placeholder keys arrive fully assembled (prefix + key + suffix) and are
// replaced textually, without escaping, before splitting.
type StatementBuilder interface {
	LoadStatements(body string, placeholders map[string]string) ([]Statement, error)
}

// Schema is a managed database schema.
type Schema interface {
	Name() string
	IsExists(ctx context.Context) (bool, error)
	IsEmpty(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
	Drop(ctx context.Context) error
	Erase(ctx context.Context) error
}

// Session is the single long-lived connection the engine executes scripts
// on.  Begin, Commit and Rollback manage an explicit transaction; Execute
// runs inside it when one is open.
type Session interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
	Execute(ctx context.Context, sqlText string, timeout time.Duration) error
	Close() error
}

// Driver is the per-DBMS capability set the engine consumes.
type Driver interface {
	// Name identifies the dialect, e.g. "postgres".
	Name() string

	// GetSchema returns schema operations for the named schema.
	GetSchema(name string) Schema

	// GetMetadataTable returns the changelog store for schema.table.
	GetMetadataTable(schema, table string) MetadataStore

	// GetCurrentSchemaName returns the connection's current schema.
	GetCurrentSchemaName(ctx context.Context) (string, error)

	// TryAcquireApplicationLock attempts the server-wide advisory lock
	// without waiting.
	TryAcquireApplicationLock(ctx context.Context) (bool, error)

	// ReleaseApplicationLock releases the advisory lock.
	ReleaseApplicationLock(ctx context.Context) error

	// StatementBuilder returns the dialect's script splitter.
	StatementBuilder() StatementBuilder

	// Session returns the engine's long-lived execution session.
	Session() Session

	// HasMonotonicID reports whether changelog ids are monotonically
	// assigned.  When false, repeatable rows order by (installed_on, name).
	HasMonotonicID() bool

	// SupportsTransactions reports whether the dialect supports
	// transactional script execution.
	SupportsTransactions() bool
}
