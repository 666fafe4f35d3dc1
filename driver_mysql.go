package ascend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MysqlDriver implements Driver for MySQL and MariaDB.  Schemas map to
// databases; the application lock uses GET_LOCK.
type MysqlDriver struct {
	baseDriver
	lockName  string
	lockToken string
}

// NewMysqlDriver wraps an open MySQL connection pool (go-sql-driver/mysql;
// the DSN must set parseTime=true).
func NewMysqlDriver(db *sql.DB, cfg Config) *MysqlDriver {
	d := &MysqlDriver{
		baseDriver: newBaseDriver(db, cfg),
		lockToken:  uuid.NewString(),
	}
	d.lockName = "ascend:" + d.cfg.MetadataTableName
	return d
}

func (d *MysqlDriver) Name() string { return "mysql" }

func (d *MysqlDriver) GetSchema(name string) Schema {
	return &mysqlSchema{driver: d, name: name}
}

func (d *MysqlDriver) GetMetadataTable(schema, table string) MetadataStore {
	return newSQLMetadataStore(d.querier, mysqlDialect{}, schema, table, d.cfg.InstalledBy, d.lockToken)
}

func (d *MysqlDriver) GetCurrentSchemaName(ctx context.Context) (string, error) {
	var name sql.NullString
	if err := d.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", err
	}
	return name.String, nil
}

// GET_LOCK is per connection, so both calls go through the session.
func (d *MysqlDriver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	q, err := d.sessionQuerier(ctx)
	if err != nil {
		return false, err
	}
	var acquired sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", d.lockName).Scan(&acquired); err != nil {
		return false, err
	}
	return acquired.Valid && acquired.Int64 == 1, nil
}

func (d *MysqlDriver) ReleaseApplicationLock(ctx context.Context) error {
	q, err := d.sessionQuerier(ctx)
	if err != nil {
		return err
	}
	var released sql.NullInt64
	return q.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", d.lockName).Scan(&released)
}

func (d *MysqlDriver) StatementBuilder() StatementBuilder {
	return sqlStatementBuilder{opt: splitOptions{backticks: true}}
}

type mysqlSchema struct {
	driver *MysqlDriver
	name   string
}

func (s *mysqlSchema) Name() string { return s.name }

func (s *mysqlSchema) IsExists(ctx context.Context) (bool, error) {
	rows, err := s.driver.db.QueryContext(ctx,
		"SELECT 1 FROM information_schema.schemata WHERE schema_name = ?", s.name)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *mysqlSchema) IsEmpty(ctx context.Context) (bool, error) {
	rows, err := s.driver.db.QueryContext(ctx,
		"SELECT 1 FROM information_schema.tables WHERE table_schema = ? LIMIT 1", s.name)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return !rows.Next(), rows.Err()
}

func (s *mysqlSchema) Create(ctx context.Context) error {
	_, err := s.driver.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteMysqlIdent(s.name)))
	return err
}

func (s *mysqlSchema) Drop(ctx context.Context) error {
	_, err := s.driver.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteMysqlIdent(s.name)))
	return err
}

// Erase drops every table and view in the database, with foreign key
// checks suspended so drop order does not matter.
func (s *mysqlSchema) Erase(ctx context.Context) error {
	rows, err := s.driver.db.QueryContext(ctx,
		"SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = ?", s.name)
	if err != nil {
		return err
	}
	type object struct{ name, typ string }
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.name, &o.typ); err != nil {
			rows.Close()
			return err
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.driver.db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return err
	}
	defer s.driver.db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
	for _, o := range objects {
		kind := "TABLE"
		if strings.EqualFold(o.typ, "VIEW") {
			kind = "VIEW"
		}
		qualified := quoteMysqlIdent(s.name) + "." + quoteMysqlIdent(o.name)
		if _, err := s.driver.db.ExecContext(ctx, fmt.Sprintf("DROP %s IF EXISTS %s", kind, qualified)); err != nil {
			return err
		}
	}
	return nil
}

func quoteMysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

type mysqlDialect struct{}

func (mysqlDialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return quoteMysqlIdent(table)
	}
	return quoteMysqlIdent(schema) + "." + quoteMysqlIdent(table)
}

func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) CreateChangelogSQL(qualified string) string {
	return `CREATE TABLE IF NOT EXISTS ` + qualified + ` (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  type SMALLINT NOT NULL,
  version VARCHAR(50),
  description VARCHAR(200) NOT NULL,
  name VARCHAR(300) NOT NULL,
  checksum VARCHAR(32),
  installed_by VARCHAR(100) NOT NULL,
  installed_on DATETIME NOT NULL,
  success BOOLEAN,
  execution_time BIGINT
)`
}

func (mysqlDialect) ChangelogExistsQuery() string {
	return "SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
}

func (mysqlDialect) NoTableClause() string { return "FROM DUAL" }
