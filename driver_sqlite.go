package ascend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SqliteDriver implements Driver for SQLite (mattn/go-sqlite3).  SQLite has
// a single schema per file and serializes writers through the file lock, so
// the application lock is a no-op.
type SqliteDriver struct {
	baseDriver
	lockToken string
}

// NewSqliteDriver wraps an open SQLite database handle.
func NewSqliteDriver(db *sql.DB, cfg Config) *SqliteDriver {
	return &SqliteDriver{
		baseDriver: newBaseDriver(db, cfg),
		lockToken:  uuid.NewString(),
	}
}

func (d *SqliteDriver) Name() string { return "sqlite" }

func (d *SqliteDriver) GetSchema(name string) Schema {
	return &sqliteSchema{driver: d, name: name}
}

func (d *SqliteDriver) GetMetadataTable(schema, table string) MetadataStore {
	return newSQLMetadataStore(d.querier, sqliteDialect{}, schema, table, d.cfg.InstalledBy, d.lockToken)
}

func (d *SqliteDriver) GetCurrentSchemaName(context.Context) (string, error) {
	return "main", nil
}

func (d *SqliteDriver) TryAcquireApplicationLock(context.Context) (bool, error) {
	return true, nil
}

func (d *SqliteDriver) ReleaseApplicationLock(context.Context) error {
	return nil
}

func (d *SqliteDriver) StatementBuilder() StatementBuilder {
	return sqlStatementBuilder{opt: splitOptions{}}
}

type sqliteSchema struct {
	driver *SqliteDriver
	name   string
}

func (s *sqliteSchema) Name() string { return s.name }

func (s *sqliteSchema) IsExists(context.Context) (bool, error) {
	return s.name == "main", nil
}

func (s *sqliteSchema) IsEmpty(ctx context.Context) (bool, error) {
	rows, err := s.driver.db.QueryContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' LIMIT 1`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return !rows.Next(), rows.Err()
}

func (s *sqliteSchema) Create(context.Context) error {
	return fmt.Errorf("sqlite does not support creating schema %q", s.name)
}

func (s *sqliteSchema) Drop(context.Context) error {
	return fmt.Errorf("sqlite does not support dropping schema %q", s.name)
}

// Erase drops every table and view in the database file.
func (s *sqliteSchema) Erase(ctx context.Context) error {
	rows, err := s.driver.db.QueryContext(ctx,
		`SELECT type, name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return err
	}
	type object struct{ typ, name string }
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.typ, &o.name); err != nil {
			rows.Close()
			return err
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, o := range objects {
		kind := "TABLE"
		if o.typ == "view" {
			kind = "VIEW"
		}
		if _, err := s.driver.db.ExecContext(ctx, fmt.Sprintf("DROP %s IF EXISTS %s", kind, quoteSqliteIdent(o.name))); err != nil {
			return err
		}
	}
	return nil
}

func quoteSqliteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type sqliteDialect struct{}

// QualifyTable ignores the schema: a SQLite file has only "main".
func (sqliteDialect) QualifyTable(_, table string) string {
	return quoteSqliteIdent(table)
}

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) CreateChangelogSQL(qualified string) string {
	return `CREATE TABLE IF NOT EXISTS ` + qualified + ` (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  type INTEGER NOT NULL,
  version TEXT,
  description TEXT NOT NULL,
  name TEXT NOT NULL,
  checksum TEXT,
  installed_by TEXT NOT NULL,
  installed_on TIMESTAMP NOT NULL,
  success BOOLEAN,
  execution_time BIGINT
)`
}

// ChangelogExistsQuery receives (schema, table); ?2 selects the table name
// and the schema argument goes unused.
func (sqliteDialect) ChangelogExistsQuery() string {
	return "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?2"
}

func (sqliteDialect) NoTableClause() string { return "" }
