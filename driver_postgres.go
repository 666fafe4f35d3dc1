package ascend

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PostgresDriver implements Driver for PostgreSQL.
type PostgresDriver struct {
	baseDriver
	lockKey   int64
	lockToken string
}

// NewPostgresDriver wraps an open PostgreSQL connection pool (typically
// registered by jackc/pgx/v5/stdlib).
func NewPostgresDriver(db *sql.DB, cfg Config) *PostgresDriver {
	d := &PostgresDriver{
		baseDriver: newBaseDriver(db, cfg),
		lockToken:  uuid.NewString(),
	}
	d.lockKey = advisoryLockKey(d.cfg.MetadataTableName)
	return d
}

func (d *PostgresDriver) Name() string { return "postgres" }

func (d *PostgresDriver) GetSchema(name string) Schema {
	return &pgSchema{driver: d, name: name}
}

func (d *PostgresDriver) GetMetadataTable(schema, table string) MetadataStore {
	return newSQLMetadataStore(d.querier, pgDialect{}, schema, table, d.cfg.InstalledBy, d.lockToken)
}

func (d *PostgresDriver) GetCurrentSchemaName(ctx context.Context) (string, error) {
	var name sql.NullString
	if err := d.db.QueryRowContext(ctx, "SELECT current_schema()").Scan(&name); err != nil {
		return "", err
	}
	return name.String, nil
}

// Advisory locks are per connection, so both calls go through the
// long-lived session.
func (d *PostgresDriver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	q, err := d.sessionQuerier(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := q.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", d.lockKey).Scan(&acquired); err != nil {
		return false, err
	}
	return acquired, nil
}

func (d *PostgresDriver) ReleaseApplicationLock(ctx context.Context) error {
	q, err := d.sessionQuerier(ctx)
	if err != nil {
		return err
	}
	var released bool
	return q.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", d.lockKey).Scan(&released)
}

func (d *PostgresDriver) StatementBuilder() StatementBuilder {
	return sqlStatementBuilder{opt: splitOptions{
		dollarQuotes: true,
		noTxPatterns: pgNoTxPatterns,
	}}
}

// Statements PostgreSQL refuses to run inside a transaction block.
var pgNoTxPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)^\s*(CREATE|DROP)\s+INDEX\s+CONCURRENTLY\b`),
	regexp.MustCompile(`(?is)^\s*VACUUM\b`),
	regexp.MustCompile(`(?is)^\s*(CREATE|DROP)\s+DATABASE\b`),
	regexp.MustCompile(`(?is)^\s*ALTER\s+TYPE\s+.*\bADD\s+VALUE\b`),
}

type pgSchema struct {
	driver *PostgresDriver
	name   string
}

func (s *pgSchema) Name() string { return s.name }

func (s *pgSchema) IsExists(ctx context.Context) (bool, error) {
	rows, err := s.driver.db.QueryContext(ctx,
		"SELECT 1 FROM information_schema.schemata WHERE schema_name = $1", s.name)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *pgSchema) IsEmpty(ctx context.Context) (bool, error) {
	rows, err := s.driver.db.QueryContext(ctx,
		`SELECT 1 FROM information_schema.tables WHERE table_schema = $1
		 UNION ALL
		 SELECT 1 FROM information_schema.sequences WHERE sequence_schema = $1
		 UNION ALL
		 SELECT 1 FROM information_schema.routines WHERE routine_schema = $1
		 LIMIT 1`, s.name)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return !rows.Next(), rows.Err()
}

func (s *pgSchema) Create(ctx context.Context) error {
	_, err := s.driver.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quotePgIdent(s.name)))
	return err
}

func (s *pgSchema) Drop(ctx context.Context) error {
	_, err := s.driver.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", quotePgIdent(s.name)))
	return err
}

// Erase drops every object by dropping and recreating the schema.
func (s *pgSchema) Erase(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.Create(ctx)
}

func quotePgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// advisoryLockKey derives the 64-bit advisory lock key from the changelog
// table name, so engines sharing a changelog contend on the same lock.
func advisoryLockKey(table string) int64 {
	h := fnv.New64a()
	h.Write([]byte("ascend:" + table))
	return int64(h.Sum64())
}

type pgDialect struct{}

func (pgDialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return quotePgIdent(table)
	}
	return quotePgIdent(schema) + "." + quotePgIdent(table)
}

// Rebind rewrites '?' markers to $1..$n.  The store's queries never carry
// literal question marks, so a plain scan is enough.
func (pgDialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (pgDialect) CreateChangelogSQL(qualified string) string {
	return `CREATE TABLE IF NOT EXISTS ` + qualified + ` (
  id BIGSERIAL PRIMARY KEY,
  type SMALLINT NOT NULL,
  version VARCHAR(50),
  description VARCHAR(200) NOT NULL,
  name VARCHAR(300) NOT NULL,
  checksum VARCHAR(32),
  installed_by VARCHAR(100) NOT NULL,
  installed_on TIMESTAMP NOT NULL,
  success BOOLEAN,
  execution_time BIGINT
)`
}

func (pgDialect) ChangelogExistsQuery() string {
	return "SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
}

func (pgDialect) NoTableClause() string { return "" }
