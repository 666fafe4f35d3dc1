package ascend

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*sqlMetadataStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := newSQLMetadataStore(func() dbQuerier { return db }, sqliteDialect{}, "main", "changelog", "tester", "lock-token")
	return store, mock
}

func TestSQLStoreIsExists(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT 1 FROM sqlite_master").
		WithArgs("main", "changelog").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	exists, err := store.IsExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetAllAppliedMigrations(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "type", "version", "description", "name", "checksum",
		"installed_by", "installed_on", "success", "execution_time"}).
		AddRow(1, int(MetadataTypeMigration), "1", "a", "V1__a.sql", "abc", "tester", now, true, 12).
		AddRow(2, int(MetadataTypeMigration), "2.1", "b", "V2.1__b.sql", "def", "tester", now, true, 7)
	mock.ExpectQuery("ORDER BY id").
		WithArgs(int(MetadataTypeMigration), true).
		WillReturnRows(rows)

	applied, err := store.GetAllAppliedMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, int64(1), applied[0].ID)
	assert.Equal(t, "2.1", applied[1].Version.String())
	assert.Equal(t, "abc", applied[0].Checksum)
	assert.True(t, applied[0].Success)
	assert.Equal(t, 12*time.Millisecond, applied[0].ExecutionTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSaveMigration(t *testing.T) {
	store, mock := newMockStore(t)
	script := NewMigrationScript(Versioned, MustParseVersion("1"), "V1__a.sql", "a",
		func() ([]byte, error) { return []byte("create table a (id int);"), nil })
	checksum, err := script.CalculateChecksum()
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "changelog"`).
		WithArgs(int(MetadataTypeMigration), "1", "a", "V1__a.sql", checksum, "tester",
			sqlmock.AnyArg(), true, int64(1500)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveMigration(context.Background(), script, true, 1500*time.Millisecond))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreUpdateChecksum(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "changelog" SET checksum`).
		WithArgs("newsum", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateChecksum(context.Background(), 7, "newsum"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreTryLock(t *testing.T) {
	store, mock := newMockStore(t)

	// First runner wins the conditional insert.
	mock.ExpectExec("WHERE NOT EXISTS").
		WillReturnResult(sqlmock.NewResult(1, 1))
	acquired, err := store.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second runner's insert matches nothing.
	mock.ExpectExec("WHERE NOT EXISTS").
		WillReturnResult(sqlmock.NewResult(0, 0))
	acquired, err = store.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, acquired)

	// Release deletes only this runner's lock row.
	mock.ExpectExec(`DELETE FROM "changelog"`).
		WithArgs(int(MetadataTypeLock), "lock-token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.ReleaseLock(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreFindStartVersion(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("ORDER BY id").
		WithArgs(int(MetadataTypeStartVersion)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "version", "description", "name", "checksum",
			"installed_by", "installed_on", "success", "execution_time"}).
			AddRow(1, int(MetadataTypeStartVersion), "2", "start version", "2", nil, "tester", now, nil, nil))

	start, err := store.FindStartVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", start.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
