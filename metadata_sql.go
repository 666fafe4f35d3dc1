package ascend

import (
	"context"
	"database/sql"
	"time"
)

// sqlDialect supplies the DBMS-specific pieces of the changelog store.
type sqlDialect interface {
	// QualifyTable renders the schema-qualified, quoted table name.
	QualifyTable(schema, table string) string

	// Rebind converts '?' parameter markers to the dialect's style.
	Rebind(query string) string

	// CreateChangelogSQL returns the DDL creating the changelog table.
	CreateChangelogSQL(qualified string) string

	// ChangelogExistsQuery returns a query with (schema, table) args that
	// yields a row iff the changelog table exists.
	ChangelogExistsQuery() string

	// NoTableClause is what the dialect needs after a bare SELECT of
	// constants ("FROM DUAL" on MySQL, empty elsewhere).
	NoTableClause() string
}

// sqlMetadataStore persists the changelog in a SQL table.  Statements are
// routed through the driver's open transaction when one exists, so ambient
// transaction modes see their own metadata writes and can roll them back.
type sqlMetadataStore struct {
	querier     func() dbQuerier
	dialect     sqlDialect
	schema      string
	table       string
	installedBy string
	lockToken   string
}

func newSQLMetadataStore(querier func() dbQuerier, dialect sqlDialect, schema, table, installedBy, lockToken string) *sqlMetadataStore {
	return &sqlMetadataStore{
		querier:     querier,
		dialect:     dialect,
		schema:      schema,
		table:       table,
		installedBy: installedBy,
		lockToken:   lockToken,
	}
}

func (s *sqlMetadataStore) qualified() string {
	return s.dialect.QualifyTable(s.schema, s.table)
}

const metadataColumns = "id, type, version, description, name, checksum, installed_by, installed_on, success, execution_time"

func (s *sqlMetadataStore) IsExists(ctx context.Context) (bool, error) {
	query := s.dialect.Rebind(s.dialect.ChangelogExistsQuery())
	rows, err := s.querier().QueryContext(ctx, query, s.schema, s.table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if rows.Next() {
		return true, rows.Err()
	}
	return false, rows.Err()
}

func (s *sqlMetadataStore) CreateIfNotExists(ctx context.Context) error {
	exists, err := s.IsExists(ctx)
	if err != nil || exists {
		return err
	}
	_, err = s.querier().ExecContext(ctx, s.dialect.CreateChangelogSQL(s.qualified()))
	return err
}

func (s *sqlMetadataStore) IsInitialized(ctx context.Context) (bool, error) {
	exists, err := s.IsExists(ctx)
	if err != nil || !exists {
		return false, err
	}
	query := s.dialect.Rebind("SELECT 1 FROM " + s.qualified() + " WHERE type IN (?, ?)")
	rows, err := s.querier().QueryContext(ctx, query, int(MetadataTypeMigration), int(MetadataTypeRepeatableMigration))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if rows.Next() {
		return true, rows.Err()
	}
	return false, rows.Err()
}

func (s *sqlMetadataStore) selectEntries(ctx context.Context, where string, args ...any) ([]MetadataEntry, error) {
	query := s.dialect.Rebind("SELECT " + metadataColumns + " FROM " + s.qualified() + " WHERE " + where + " ORDER BY id")
	rows, err := s.querier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetadataEntry
	for rows.Next() {
		var (
			entry    MetadataEntry
			typ      int
			version  sql.NullString
			checksum sql.NullString
			success  sql.NullBool
			elapsed  sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &typ, &version, &entry.Description, &entry.Name,
			&checksum, &entry.InstalledBy, &entry.InstalledOn, &success, &elapsed); err != nil {
			return nil, err
		}
		entry.Type = MetadataType(typ)
		if version.Valid && version.String != "" {
			v, err := ParseVersion(version.String)
			if err != nil {
				return nil, err
			}
			entry.Version = v
		}
		entry.Checksum = checksum.String
		entry.Success = success.Valid && success.Bool
		entry.ExecutionTime = time.Duration(elapsed.Int64) * time.Millisecond
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *sqlMetadataStore) GetAllMetadata(ctx context.Context) ([]MetadataEntry, error) {
	return s.selectEntries(ctx, "type <> ?", int(MetadataTypeLock))
}

func (s *sqlMetadataStore) GetAllAppliedMigrations(ctx context.Context) ([]MetadataEntry, error) {
	return s.selectEntries(ctx, "type = ? AND success = ?", int(MetadataTypeMigration), true)
}

func (s *sqlMetadataStore) GetAllAppliedRepeatableMigrations(ctx context.Context) ([]MetadataEntry, error) {
	return s.selectEntries(ctx, "type = ? AND success = ?", int(MetadataTypeRepeatableMigration), true)
}

func (s *sqlMetadataStore) FindLastAppliedVersion(ctx context.Context) (Version, error) {
	applied, err := s.GetAllAppliedMigrations(ctx)
	if err != nil {
		return Version{}, err
	}
	return lastAppliedVersion(applied), nil
}

func (s *sqlMetadataStore) FindStartVersion(ctx context.Context) (Version, error) {
	entries, err := s.selectEntries(ctx, "type = ?", int(MetadataTypeStartVersion))
	if err != nil || len(entries) == 0 {
		return Version{}, err
	}
	return entries[0].Version, nil
}

const insertColumns = "(type, version, description, name, checksum, installed_by, installed_on, success, execution_time)"

func (s *sqlMetadataStore) Save(ctx context.Context, typ MetadataType, version Version, description, name string) error {
	query := s.dialect.Rebind("INSERT INTO " + s.qualified() + " " + insertColumns + " VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	var label any
	if version.IsDefined() {
		label = version.String()
	}
	_, err := s.querier().ExecContext(ctx, query,
		int(typ), label, description, name, nil, s.installedBy, time.Now().UTC(), nil, nil)
	return err
}

func (s *sqlMetadataStore) SaveMigration(ctx context.Context, script *MigrationScript, success bool, elapsed time.Duration) error {
	checksum, err := script.CalculateChecksum()
	if err != nil {
		return err
	}
	typ := MetadataTypeMigration
	var label any
	if script.Category == Repeatable {
		typ = MetadataTypeRepeatableMigration
	} else {
		label = script.Version.String()
	}
	query := s.dialect.Rebind("INSERT INTO " + s.qualified() + " " + insertColumns + " VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err = s.querier().ExecContext(ctx, query,
		int(typ), label, script.Description, script.Name, checksum, s.installedBy, time.Now().UTC(), success, elapsed.Milliseconds())
	return err
}

func (s *sqlMetadataStore) UpdateChecksum(ctx context.Context, id int64, checksum string) error {
	query := s.dialect.Rebind("UPDATE " + s.qualified() + " SET checksum = ? WHERE id = ?")
	_, err := s.querier().ExecContext(ctx, query, checksum, id)
	return err
}

func (s *sqlMetadataStore) hasSchemaMarker(ctx context.Context, typ MetadataType, schema string) (bool, error) {
	exists, err := s.IsExists(ctx)
	if err != nil || !exists {
		return false, err
	}
	query := s.dialect.Rebind("SELECT 1 FROM " + s.qualified() + " WHERE type = ? AND name = ?")
	rows, err := s.querier().QueryContext(ctx, query, int(typ), schema)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if rows.Next() {
		return true, rows.Err()
	}
	return false, rows.Err()
}

func (s *sqlMetadataStore) CanDropSchema(ctx context.Context, schema string) (bool, error) {
	return s.hasSchemaMarker(ctx, MetadataTypeNewSchema, schema)
}

func (s *sqlMetadataStore) CanEraseSchema(ctx context.Context, schema string) (bool, error) {
	return s.hasSchemaMarker(ctx, MetadataTypeEmptySchema, schema)
}

func (s *sqlMetadataStore) IsEmptySchemaMetadataExists(ctx context.Context, schema string) (bool, error) {
	return s.hasSchemaMarker(ctx, MetadataTypeEmptySchema, schema)
}

// TryLock inserts the lock row only when none exists.  The conditional
// insert is a single statement, so concurrent runners cannot both win.
func (s *sqlMetadataStore) TryLock(ctx context.Context) (bool, error) {
	query := s.dialect.Rebind("INSERT INTO " + s.qualified() + " " + insertColumns +
		" SELECT ?, ?, ?, ?, ?, ?, ?, ?, ? " + s.dialect.NoTableClause() +
		" WHERE NOT EXISTS (SELECT 1 FROM " + s.qualified() + " WHERE type = ?)")
	res, err := s.querier().ExecContext(ctx, query,
		int(MetadataTypeLock), nil, "lock", s.lockToken, nil, s.installedBy, time.Now().UTC(), nil, nil,
		int(MetadataTypeLock))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *sqlMetadataStore) ReleaseLock(ctx context.Context) error {
	query := s.dialect.Rebind("DELETE FROM " + s.qualified() + " WHERE type = ? AND name = ?")
	_, err := s.querier().ExecContext(ctx, query, int(MetadataTypeLock), s.lockToken)
	return err
}
