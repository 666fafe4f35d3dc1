package ascend

import (
	"context"
	"time"
)

// MetadataType classifies changelog rows.
type MetadataType int

const (
	// MetadataTypeNewSchema records a schema the engine created.
	MetadataTypeNewSchema MetadataType = iota + 1

	// MetadataTypeEmptySchema records a pre-existing schema adopted empty.
	MetadataTypeEmptySchema

	// MetadataTypeStartVersion records the one-time start version marker.
	MetadataTypeStartVersion

	// MetadataTypeMigration records a versioned script execution.
	MetadataTypeMigration

	// MetadataTypeRepeatableMigration records a repeatable script execution.
	MetadataTypeRepeatableMigration

	// MetadataTypeLock is the transient changelog lock row.
	MetadataTypeLock
)

func (t MetadataType) String() string {
	switch t {
	case MetadataTypeNewSchema:
		return "NewSchema"
	case MetadataTypeEmptySchema:
		return "EmptySchema"
	case MetadataTypeStartVersion:
		return "StartVersion"
	case MetadataTypeMigration:
		return "Migration"
	case MetadataTypeRepeatableMigration:
		return "RepeatableMigration"
	case MetadataTypeLock:
		return "Lock"
	}
	return "Unknown"
}

// IsMigration reports whether the type records a script execution.
func (t MetadataType) IsMigration() bool {
	return t == MetadataTypeMigration || t == MetadataTypeRepeatableMigration
}

// MetadataEntry is one persisted changelog row.
type MetadataEntry struct {
	ID            int64
	Type          MetadataType
	Version       Version // set for Migration and StartVersion rows
	Name          string  // script name, or schema name for schema rows
	Description   string
	Checksum      string // set for migration rows
	InstalledOn   time.Time
	InstalledBy   string
	Success       bool // meaningful for migration rows
	ExecutionTime time.Duration
}

// MetadataStore abstracts the persisted changelog table.
type MetadataStore interface {
	// IsExists reports whether the changelog table exists.
	IsExists(ctx context.Context) (bool, error)

	// IsInitialized reports whether any migration has ever been recorded.
	IsInitialized(ctx context.Context) (bool, error)

	// CreateIfNotExists creates the changelog table when absent.
	CreateIfNotExists(ctx context.Context) error

	// FindLastAppliedVersion returns the highest version among successful
	// Migration rows, or MinVersion when there are none.
	FindLastAppliedVersion(ctx context.Context) (Version, error)

	// FindStartVersion returns the persisted StartVersion marker, or an
	// undefined Version when no marker exists.
	FindStartVersion(ctx context.Context) (Version, error)

	// GetAllMetadata returns every row except the transient lock row, in
	// id order.
	GetAllMetadata(ctx context.Context) ([]MetadataEntry, error)

	// GetAllAppliedMigrations returns successful Migration rows in id order.
	GetAllAppliedMigrations(ctx context.Context) ([]MetadataEntry, error)

	// GetAllAppliedRepeatableMigrations returns successful
	// RepeatableMigration rows in id order.
	GetAllAppliedRepeatableMigrations(ctx context.Context) ([]MetadataEntry, error)

	// Save appends a non-migration row (schema markers, start version).
	Save(ctx context.Context, typ MetadataType, version Version, description, name string) error

	// SaveMigration appends a Migration or RepeatableMigration row for the
	// script with the given outcome.
	SaveMigration(ctx context.Context, script *MigrationScript, success bool, elapsed time.Duration) error

	// UpdateChecksum overwrites the checksum of the row with the given id.
	UpdateChecksum(ctx context.Context, id int64, checksum string) error

	// CanDropSchema reports whether the engine created the schema.
	CanDropSchema(ctx context.Context, schema string) (bool, error)

	// CanEraseSchema reports whether the schema was adopted empty.
	CanEraseSchema(ctx context.Context, schema string) (bool, error)

	// IsEmptySchemaMetadataExists reports whether an EmptySchema marker has
	// been recorded for the schema.
	IsEmptySchemaMetadataExists(ctx context.Context, schema string) (bool, error)

	// TryLock attempts to take the changelog lock without waiting.
	TryLock(ctx context.Context) (bool, error)

	// ReleaseLock releases the changelog lock held by this runner.
	ReleaseLock(ctx context.Context) error
}
