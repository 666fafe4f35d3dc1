// SPDX-License-Identifier: MIT

// Package ascend is a database schema migration engine.  Given a live
// database connection and a set of SQL script sources, it brings the target
// schema from its current state to a declared target version: it discovers
// versioned and repeatable migration scripts, reconciles them against a
// persisted changelog table, and applies what is pending in a strictly
// defined order under configurable transaction and locking policies.
//
// A thin driver layer (currently PostgreSQL, MySQL and SQLite) supplies SQL
// dialect differences.  A companion CLI lives under cmd/ascend; the core
// logic is here.
//
// # Quick start
//
//	import (
//	    "context"
//	    "database/sql"
//	    "os"
//
//	    _ "github.com/jackc/pgx/v5/stdlib" // or go-sqlite3 / go-sql-driver
//	    "github.com/ascend-db/ascend"
//	)
//
//	func main() {
//	    db, _ := sql.Open("pgx", os.Getenv("DATABASE_URL"))
//	    cfg := ascend.NewConfig()
//	    cfg.Locations = []string{"migrations"}
//
//	    drv := ascend.NewPostgresDriver(db, cfg)
//	    eng, _ := ascend.NewEngine(cfg, drv)
//	    eng.Migrate(context.Background())
//	}
//
// # Commands
//
// The engine exposes five commands:
//
//   - Migrate  — apply pending scripts up to the target version
//   - Validate — check that the database and the script sources agree
//   - Repair   — rewrite drifted checksums in the changelog
//   - Erase    — drop or empty the managed schemas
//   - Info     — list the state of every known script and changelog row
//
// All operations are context-aware; cancel the context to abort long runs.
//
// # Migration scripts
//
// Versioned scripts are applied exactly once, in ascending version order:
//
//	V1__create_users.sql
//	V2.1__add_index.sql
//
// Repeatable scripts carry no version and are re-applied whenever their
// checksum changes (or always, when the description carries the
// repeat-always marker):
//
//	R__views.sql
//	R__refresh_stats!.sql
//
// Every prefix, separator and suffix is configurable through Config.
//
// # Cluster mode
//
// When cluster mode is enabled (the default) concurrent runners serialize
// through two nested locks: an application-level advisory lock on the
// database server and a lock row in the changelog table.  Contention is
// retried with exponential backoff, so unattended deployments on
// multi-instance clusters are safe.
//
// # Exit codes
//
// The library returns errors; the CLI exits with non-zero status on any
// failure.  Validation errors aggregate every finding for easy triage.
package ascend
