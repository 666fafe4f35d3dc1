package ascend

import (
	"fmt"
	"io/fs"
	"os/user"
	"strings"
	"time"
)

// TransactionMode governs how script executions relate to transactions.
type TransactionMode int

const (
	// CommitEach commits (or records a failure for) every script
	// independently.  This is the default.
	CommitEach TransactionMode = iota

	// CommitAll applies every script inside one ambient transaction and
	// commits it at the end of the run.  A mid-run failure leaves no trace.
	CommitAll

	// RollbackAll applies every script inside one ambient transaction and
	// always rolls it back.  Useful as a dry run against a real database.
	RollbackAll
)

// String returns the mode name as accepted by the CLI.
func (m TransactionMode) String() string {
	switch m {
	case CommitAll:
		return "commit-all"
	case RollbackAll:
		return "rollback-all"
	default:
		return "commit-each"
	}
}

// ParseTransactionMode parses a CLI/config transaction mode name.
func ParseTransactionMode(s string) (TransactionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "commit-each", "commiteach":
		return CommitEach, nil
	case "commit-all", "commitall":
		return CommitAll, nil
	case "rollback-all", "rollbackall":
		return RollbackAll, nil
	}
	return CommitEach, fmt.Errorf("unknown transaction mode %q (want commit-each, commit-all or rollback-all)", s)
}

// Config holds settings for the migration engine.  Construct it with
// NewConfig and override fields as needed.  In the zero value cluster mode
// is off; the other empty fields (naming conventions, table name, version
// bounds, encoding, installed-by) are filled with their defaults when the
// engine, a loader or a driver is constructed.
type Config struct {
	// Schemas are the database schemas under management.  When empty, the
	// connection's current schema is managed.
	Schemas []string

	// MetadataTableName is the name of the changelog table.
	MetadataTableName string

	// MetadataTableSchema is the schema holding the changelog table.
	// Defaults to the first managed schema.
	MetadataTableSchema string

	// Locations are directories scanned for *.sql migration scripts.
	Locations []string

	// FileSystems are embedded script bundles (typically go:embed FS
	// values).  When any are configured they take precedence over
	// Locations; the loader is chosen once at engine construction.
	FileSystems []fs.FS

	// StartVersion marks every version strictly below it as intentionally
	// skipped.  Persisted in the changelog on the first run.
	StartVersion Version

	// TargetVersion is the inclusive upper bound on versions to apply.
	TargetVersion Version

	// OutOfOrder permits applying scripts whose version is below the last
	// applied version (gap filling).
	OutOfOrder bool

	// Encoding is the script file encoding.  Supported: UTF-8 (default),
	// UTF-16LE, UTF-16BE.
	Encoding string

	// TransactionMode selects commit-each, commit-all or rollback-all.
	TransactionMode TransactionMode

	// EnableClusterMode serializes concurrent runners through an
	// application lock and a changelog lock row.  On by default.
	EnableClusterMode bool

	// IsEraseDisabled makes the Erase command (and the erase-on-validation
	// failure path) refuse to run.
	IsEraseDisabled bool

	// MustEraseOnValidationError erases and rebuilds the managed schemas
	// when Migrate's validation preamble fails.
	MustEraseOnValidationError bool

	// RetryRepeatableMigrationsUntilNoError keeps re-running failed
	// repeatable scripts while at least one of them makes progress.
	RetryRepeatableMigrationsUntilNoError bool

	// SkipNextMigrations records pending forward scripts as applied
	// without executing their bodies.
	SkipNextMigrations bool

	// CommandTimeout bounds each SQL statement execution.  Zero means no
	// timeout.
	CommandTimeout time.Duration

	// AmbientTransactionTimeout bounds the ambient transaction in
	// commit-all and rollback-all modes.  Zero means no timeout.
	AmbientTransactionTimeout time.Duration

	// LockAcquisitionTimeout bounds the overall wait for either cluster
	// lock.  Zero waits forever.
	LockAcquisitionTimeout time.Duration

	// Script naming convention.
	SQLMigrationPrefix          string // default "V"
	SQLRepeatableMigrationPrefix string // default "R"
	SQLMigrationSeparator       string // default "__"
	SQLMigrationSuffix          string // default ".sql"

	// RepeatAlwaysMarker marks a repeatable script for re-application on
	// every run when its description ends with the marker.
	RepeatAlwaysMarker string // default "!"

	// Placeholder substitution applied textually to every SQL statement.
	PlaceholderPrefix string // default "${"
	PlaceholderSuffix string // default "}"
	Placeholders      map[string]string

	// InstalledBy identifies the runner in changelog rows.  Defaults to
	// the OS user name.
	InstalledBy string
}

// NewConfig returns a Config populated with every default.
func NewConfig() Config {
	return Config{
		MetadataTableName:            "changelog",
		StartVersion:                 MinVersion,
		TargetVersion:                MaxVersion,
		Encoding:                     "UTF-8",
		TransactionMode:              CommitEach,
		EnableClusterMode:            true,
		SQLMigrationPrefix:           "V",
		SQLRepeatableMigrationPrefix: "R",
		SQLMigrationSeparator:        "__",
		SQLMigrationSuffix:           ".sql",
		RepeatAlwaysMarker:           "!",
		PlaceholderPrefix:            "${",
		PlaceholderSuffix:            "}",
		InstalledBy:                  currentUserName(),
	}
}

// withDefaults fills the gaps a hand-built Config may have left so the rest
// of the engine never has to guard against empty conventions.
func (c Config) withDefaults() Config {
	d := NewConfig()
	if c.MetadataTableName == "" {
		c.MetadataTableName = d.MetadataTableName
	}
	if !c.StartVersion.IsDefined() {
		c.StartVersion = d.StartVersion
	}
	if !c.TargetVersion.IsDefined() {
		c.TargetVersion = d.TargetVersion
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if c.SQLMigrationPrefix == "" {
		c.SQLMigrationPrefix = d.SQLMigrationPrefix
	}
	if c.SQLRepeatableMigrationPrefix == "" {
		c.SQLRepeatableMigrationPrefix = d.SQLRepeatableMigrationPrefix
	}
	if c.SQLMigrationSeparator == "" {
		c.SQLMigrationSeparator = d.SQLMigrationSeparator
	}
	if c.SQLMigrationSuffix == "" {
		c.SQLMigrationSuffix = d.SQLMigrationSuffix
	}
	if c.RepeatAlwaysMarker == "" {
		c.RepeatAlwaysMarker = d.RepeatAlwaysMarker
	}
	if c.PlaceholderPrefix == "" {
		c.PlaceholderPrefix = d.PlaceholderPrefix
	}
	if c.PlaceholderSuffix == "" {
		c.PlaceholderSuffix = d.PlaceholderSuffix
	}
	if c.InstalledBy == "" {
		c.InstalledBy = d.InstalledBy
	}
	return c
}

func currentUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
