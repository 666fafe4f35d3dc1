package ascend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
)

// RunReport carries the counters of the most recent command execution.
type RunReport struct {
	NbMigration            int
	NbReparation           int
	NbSchemaErased         int
	NbSchemaToEraseSkipped int
	TotalTimeElapsed       time.Duration

	// AppliedMigrations lists applied script names in order.  A
	// rollback-all run clears it after logging each script as rolled back.
	AppliedMigrations []string
}

// Engine drives the five commands against one database through a Driver
// and a MigrationLoader, both bound at construction.
type Engine struct {
	cfg     Config
	driver  Driver
	loader  MigrationLoader
	log     *slog.Logger
	store   MetadataStore
	schemas []string
	run     RunReport
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLoader replaces the loader chosen from the configuration.
func WithLoader(loader MigrationLoader) Option {
	return func(e *Engine) { e.loader = loader }
}

// NewEngine builds an engine for the given configuration and driver.
func NewEngine(cfg Config, driver Driver, opts ...Option) (*Engine, error) {
	if driver == nil {
		return nil, configurationErrorf("no database driver configured")
	}
	e := &Engine{
		cfg:    cfg.withDefaults(),
		driver: driver,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loader == nil {
		e.loader = newLoader(e.cfg)
	}
	return e, nil
}

// Report returns the counters of the last command run.
func (e *Engine) Report() RunReport { return e.run }

// Migrate brings the database to the target version: it validates the
// applied window, then applies out-of-order pendings, forward pendings and
// repeatable scripts under the configured transaction mode.
func (e *Engine) Migrate(ctx context.Context) error {
	return e.execute(ctx, "migrate", true, e.migrateBody)
}

// Repair rewrites drifted checksums in the changelog.  No script bodies
// are executed.
func (e *Engine) Repair(ctx context.Context) error {
	return e.execute(ctx, "repair", true, func(ctx context.Context) error {
		versioned, err := e.loader.GetMigrations()
		if err != nil {
			return err
		}
		start, err := e.effectiveStartVersion(ctx)
		if err != nil {
			return err
		}
		return e.validateAndRepairWalk(ctx, versioned, start, true)
	})
}

// Erase drops every schema the engine created and empties every schema it
// adopted empty, in reverse discovery order.  Unmanaged schemas are skipped.
func (e *Engine) Erase(ctx context.Context) error {
	return e.execute(ctx, "erase", true, e.eraseBody)
}

// Validate is read-only: it fails with an aggregated error when the
// changelog and the script sources disagree, and never takes cluster locks.
func (e *Engine) Validate(ctx context.Context) error {
	started := time.Now()
	if err := e.prepare(ctx); err != nil {
		return err
	}
	defer func() { e.run.TotalTimeElapsed = time.Since(started) }()
	return e.validateBody(ctx)
}

// execute is the shared command envelope: reset counters, resolve schemas,
// take the cluster locks, ensure schemas and the changelog exist, run the
// body, release the locks.  Lock release is attempted on every exit path
// and never masks the primary error.
func (e *Engine) execute(ctx context.Context, command string, withLocks bool, body func(context.Context) error) (err error) {
	started := time.Now()
	if err := e.prepare(ctx); err != nil {
		return err
	}
	defer func() {
		e.run.TotalTimeElapsed = time.Since(started)
		if err == nil {
			e.log.Info("command finished", "command", command, "elapsed", e.run.TotalTimeElapsed.Round(time.Millisecond), "applied", e.run.NbMigration)
		}
	}()
	e.log.Info("command starting", "command", command, "database", e.driver.Name(), "schemas", e.schemas)

	locked := withLocks && e.cfg.EnableClusterMode
	if locked {
		if err := e.waitForLock(ctx, "application lock", e.driver.TryAcquireApplicationLock); err != nil {
			return err
		}
		defer func() {
			if rerr := e.driver.ReleaseApplicationLock(ctx); rerr != nil {
				e.log.Warn("could not release application lock", "error", rerr)
			}
		}()
	}

	if err := e.ensureSchemas(ctx); err != nil {
		return err
	}

	if locked {
		if err := e.waitForLock(ctx, "changelog lock", e.store.TryLock); err != nil {
			return err
		}
		defer func() {
			if rerr := e.store.ReleaseLock(ctx); rerr != nil {
				e.log.Warn("could not release changelog lock", "error", rerr)
			}
		}()
	}

	return body(ctx)
}

// prepare resets the run counters and binds the managed schemas and the
// changelog store for this command.
func (e *Engine) prepare(ctx context.Context) error {
	e.run = RunReport{}

	schemas := e.cfg.Schemas
	if len(schemas) == 0 {
		current, err := e.driver.GetCurrentSchemaName(ctx)
		if err != nil {
			return err
		}
		if current == "" {
			return configurationErrorf("no schema to manage: none configured and the connection has no current schema")
		}
		schemas = []string{current}
	}
	e.schemas = schemas

	metaSchema := e.cfg.MetadataTableSchema
	if metaSchema == "" {
		metaSchema = schemas[0]
	}
	e.store = e.driver.GetMetadataTable(metaSchema, e.cfg.MetadataTableName)
	return nil
}

// ensureSchemas creates missing managed schemas and the changelog table,
// then records the NewSchema and EmptySchema markers.  Emptiness is
// observed before the changelog table is created so adopting a blank
// schema works.
func (e *Engine) ensureSchemas(ctx context.Context) error {
	var created, adoptedEmpty []string
	for _, name := range e.schemas {
		schema := e.driver.GetSchema(name)
		exists, err := schema.IsExists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			if err := schema.Create(ctx); err != nil {
				return err
			}
			e.log.Info("created schema", "schema", name)
			created = append(created, name)
			continue
		}
		empty, err := schema.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if empty {
			adoptedEmpty = append(adoptedEmpty, name)
		}
	}

	if err := e.store.CreateIfNotExists(ctx); err != nil {
		return err
	}

	for _, name := range created {
		if err := e.store.Save(ctx, MetadataTypeNewSchema, Version{}, "schema created", name); err != nil {
			return err
		}
	}
	for _, name := range adoptedEmpty {
		marked, err := e.store.IsEmptySchemaMetadataExists(ctx, name)
		if err != nil {
			return err
		}
		if !marked {
			if err := e.store.Save(ctx, MetadataTypeEmptySchema, Version{}, "empty schema found", name); err != nil {
				return err
			}
		}
	}
	return nil
}

// effectiveStartVersion prefers the persisted StartVersion marker over the
// configured one.
func (e *Engine) effectiveStartVersion(ctx context.Context) (Version, error) {
	exists, err := e.store.IsExists(ctx)
	if err != nil {
		return Version{}, err
	}
	if exists {
		persisted, err := e.store.FindStartVersion(ctx)
		if err != nil {
			return Version{}, err
		}
		if persisted.IsDefined() {
			return persisted, nil
		}
	}
	return e.cfg.StartVersion, nil
}

// persistStartVersion records the configured start version once, on the
// first run.  Changing it after migrations exist is a configuration error.
func (e *Engine) persistStartVersion(ctx context.Context) error {
	persisted, err := e.store.FindStartVersion(ctx)
	if err != nil {
		return err
	}
	if persisted.IsDefined() || e.cfg.StartVersion.Compare(MinVersion) <= 0 {
		return nil
	}
	initialized, err := e.store.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return configurationErrorf("cannot set start version %s: migrations have already been applied", e.cfg.StartVersion)
	}
	return e.store.Save(ctx, MetadataTypeStartVersion, e.cfg.StartVersion, "start version", e.cfg.StartVersion.String())
}

func (e *Engine) migrateBody(ctx context.Context) error {
	versioned, err := e.loader.GetMigrations()
	if err != nil {
		return err
	}
	repeatable, err := e.loader.GetRepeatableMigrations()
	if err != nil {
		return err
	}
	if len(versioned) == 0 && len(repeatable) == 0 {
		e.log.Info("no migration scripts found, nothing to do")
		return nil
	}

	if err := e.persistStartVersion(ctx); err != nil {
		return err
	}
	start, err := e.effectiveStartVersion(ctx)
	if err != nil {
		return err
	}

	if err := e.validateAndRepairWalk(ctx, versioned, start, false); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) || !e.cfg.MustEraseOnValidationError {
			return err
		}
		e.log.Warn("validation failed, erasing managed schemas", "error", err)
		if err := e.eraseBody(ctx); err != nil {
			return err
		}
		if err := e.ensureSchemas(ctx); err != nil {
			return err
		}
		if err := e.persistStartVersion(ctx); err != nil {
			return err
		}
		if start, err = e.effectiveStartVersion(ctx); err != nil {
			return err
		}
	}

	return e.applyPhase(ctx, versioned, repeatable, start)
}

// applyPhase runs reconciliation and applies the pending sets under the
// configured transaction mode.
func (e *Engine) applyPhase(ctx context.Context, versioned, repeatable []*MigrationScript, start Version) error {
	applied, err := e.store.GetAllAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	appliedRepeatable, err := e.store.GetAllAppliedRepeatableMigrations(ctx)
	if err != nil {
		return err
	}
	rec, err := reconcile(versioned, repeatable, applied, appliedRepeatable, start, e.cfg.TargetVersion)
	if err != nil {
		return err
	}

	x := &executor{driver: e.driver, store: e.store, cfg: e.cfg, log: e.log, run: &e.run}
	ambient := e.cfg.TransactionMode != CommitEach && e.driver.SupportsTransactions()
	if !ambient {
		return e.applyScripts(ctx, x, rec)
	}

	if e.cfg.AmbientTransactionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AmbientTransactionTimeout)
		defer cancel()
	}
	sess := e.driver.Session()
	if err := sess.Begin(ctx); err != nil {
		return err
	}
	if err := e.applyScripts(ctx, x, rec); err != nil {
		if rerr := sess.Rollback(ctx); rerr != nil {
			e.log.Warn("ambient rollback failed", "error", rerr)
		}
		e.logRolledBack()
		return err
	}
	if e.cfg.TransactionMode == CommitAll {
		return sess.Commit(ctx)
	}
	// Rollback-all: a dry run against the real database.
	if err := sess.Rollback(ctx); err != nil {
		return err
	}
	e.logRolledBack()
	return nil
}

// logRolledBack reports every script applied in this run as rolled back and
// clears the applied list: nothing about them persists.
func (e *Engine) logRolledBack() {
	for _, name := range e.run.AppliedMigrations {
		e.log.Info("rolled back migration", "script", name)
	}
	e.run.AppliedMigrations = nil
}

func (e *Engine) applyScripts(ctx context.Context, x *executor, rec *reconciliation) error {
	if e.cfg.OutOfOrder {
		for _, script := range rec.outOfOrderPending {
			if err := x.apply(ctx, script); err != nil {
				return err
			}
		}
	}
	for _, script := range rec.pendingForward {
		if e.cfg.SkipNextMigrations {
			if err := x.markApplied(ctx, script); err != nil {
				return err
			}
			continue
		}
		if err := x.apply(ctx, script); err != nil {
			return err
		}
	}
	return e.applyRepeatables(ctx, x, rec.pendingRepeatable)
}

func (e *Engine) applyRepeatables(ctx context.Context, x *executor, pending []*MigrationScript) error {
	if !e.cfg.RetryRepeatableMigrationsUntilNoError {
		for _, script := range pending {
			if err := x.apply(ctx, script); err != nil {
				return err
			}
		}
		return nil
	}

	// Retry mode: keep looping over the failing scripts while at least one
	// of them succeeds per round; raise the first accumulated error at the
	// end.
	var errs []error
	for len(pending) > 0 {
		var failed []*MigrationScript
		progress := false
		for _, script := range pending {
			if err := x.apply(ctx, script); err != nil {
				e.log.Warn("repeatable migration failed, will retry", "script", script.Name, "error", err)
				errs = append(errs, err)
				failed = append(failed, script)
				continue
			}
			progress = true
		}
		if !progress {
			break
		}
		pending = failed
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (e *Engine) eraseBody(ctx context.Context) error {
	if e.cfg.IsEraseDisabled {
		return configurationErrorf("erase is disabled by configuration")
	}
	for i := len(e.schemas) - 1; i >= 0; i-- {
		name := e.schemas[i]
		schema := e.driver.GetSchema(name)
		canDrop, err := e.store.CanDropSchema(ctx, name)
		if err != nil {
			return err
		}
		if canDrop {
			if err := schema.Drop(ctx); err != nil {
				return err
			}
			e.run.NbSchemaErased++
			e.log.Info("dropped schema", "schema", name)
			continue
		}
		canErase, err := e.store.CanEraseSchema(ctx, name)
		if err != nil {
			return err
		}
		if canErase {
			if err := schema.Erase(ctx); err != nil {
				return err
			}
			e.run.NbSchemaErased++
			e.log.Info("erased schema", "schema", name)
			continue
		}
		e.run.NbSchemaToEraseSkipped++
		e.log.Info("schema is not managed by the engine, skipping erase", "schema", name)
	}
	return nil
}

// validateBody aggregates every inconsistency between the changelog and the
// script sources.
func (e *Engine) validateBody(ctx context.Context) error {
	versioned, err := e.loader.GetMigrations()
	if err != nil {
		return err
	}
	repeatable, err := e.loader.GetRepeatableMigrations()
	if err != nil {
		return err
	}

	var applied, appliedRepeatable []MetadataEntry
	exists, err := e.store.IsExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if applied, err = e.store.GetAllAppliedMigrations(ctx); err != nil {
			return err
		}
		if appliedRepeatable, err = e.store.GetAllAppliedRepeatableMigrations(ctx); err != nil {
			return err
		}
	}
	start, err := e.effectiveStartVersion(ctx)
	if err != nil {
		return err
	}
	rec, err := reconcile(versioned, repeatable, applied, appliedRepeatable, start, e.cfg.TargetVersion)
	if err != nil {
		return err
	}

	byName := make(map[string]*MigrationScript, len(versioned)+len(repeatable))
	for _, script := range versioned {
		byName[script.Name] = script
	}
	for _, script := range repeatable {
		byName[script.Name] = script
	}

	var result *multierror.Error
	for _, entry := range append(append([]MetadataEntry(nil), applied...), appliedRepeatable...) {
		script, ok := byName[entry.Name]
		if !ok {
			result = multierror.Append(result, validationErrorf("applied migration %s has no matching script", entry.Name))
			continue
		}
		if entry.Type != MetadataTypeMigration {
			continue // repeatable drift means pending, not failure
		}
		checksum, err := script.CalculateChecksum()
		if err != nil {
			return err
		}
		if entry.Checksum != checksum {
			result = multierror.Append(result, validationErrorf("invalid checksum for: %s", script.Name))
		}
	}
	for _, script := range rec.pendingForward {
		result = multierror.Append(result, validationErrorf("migration %s is pending", script.Name))
	}
	for _, script := range rec.pendingRepeatable {
		if script.MustRepeatAlways {
			continue
		}
		result = multierror.Append(result, validationErrorf("repeatable migration %s is pending", script.Name))
	}

	if err := result.ErrorOrNil(); err != nil {
		return &ValidationError{msg: "validation failed", err: err}
	}
	e.log.Info("validation succeeded", "scripts", len(versioned)+len(repeatable))
	return nil
}
