package ascend

import (
	"context"
	"log/slog"
	"time"
)

// executor applies one script at a time on the driver's session: statement
// splitting, transaction boundaries, the changelog append and the error
// path.
type executor struct {
	driver Driver
	store  MetadataStore
	cfg    Config
	log    *slog.Logger
	run    *RunReport
}

// placeholderTokens assembles the configured placeholder map into full
// tokens ready for textual replacement.
func (x *executor) placeholderTokens() map[string]string {
	if len(x.cfg.Placeholders) == 0 {
		return nil
	}
	tokens := make(map[string]string, len(x.cfg.Placeholders))
	for key, value := range x.cfg.Placeholders {
		tokens[x.cfg.PlaceholderPrefix+key+x.cfg.PlaceholderSuffix] = value
	}
	return tokens
}

// apply executes the script and records its changelog row.
func (x *executor) apply(ctx context.Context, script *MigrationScript) error {
	start := time.Now()

	body, err := script.Body()
	if err != nil {
		return err
	}
	statements, err := x.driver.StatementBuilder().LoadStatements(string(body), x.placeholderTokens())
	if err != nil {
		return err
	}

	sess := x.driver.Session()
	ambient := x.cfg.TransactionMode != CommitEach && x.driver.SupportsTransactions()

	for _, stmt := range statements {
		// Outside ambient mode each script manages its own transaction:
		// open one before the first transactional statement, commit before
		// a statement that cannot run inside one.
		if x.driver.SupportsTransactions() && !ambient {
			if stmt.MustExecuteInTransaction && !sess.InTransaction() {
				if err := sess.Begin(ctx); err != nil {
					return x.fail(ctx, script, start, err)
				}
			} else if !stmt.MustExecuteInTransaction && sess.InTransaction() {
				if err := sess.Commit(ctx); err != nil {
					return x.fail(ctx, script, start, err)
				}
			}
		}
		if err := sess.Execute(ctx, stmt.SQL, x.cfg.CommandTimeout); err != nil {
			return x.fail(ctx, script, start, err)
		}
	}

	if !ambient && sess.InTransaction() {
		if err := sess.Commit(ctx); err != nil {
			return x.fail(ctx, script, start, err)
		}
	}

	elapsed := time.Since(start)
	if err := x.store.SaveMigration(ctx, script, true, elapsed); err != nil {
		return err
	}
	x.recordSuccess(script, elapsed)
	return nil
}

// markApplied records the script as successfully applied without executing
// its body (the skip-next-migrations path).
func (x *executor) markApplied(ctx context.Context, script *MigrationScript) error {
	if err := x.store.SaveMigration(ctx, script, true, 0); err != nil {
		return err
	}
	x.recordSuccess(script, 0)
	x.log.Info("marked as applied without execution", "script", script.Name)
	return nil
}

func (x *executor) recordSuccess(script *MigrationScript, elapsed time.Duration) {
	x.run.NbMigration++
	x.run.AppliedMigrations = append(x.run.AppliedMigrations, script.Name)
	x.log.Info("applied migration", "script", script.Name, "elapsed", elapsed.Round(time.Millisecond))
}

// fail rolls back the script's own transaction, persists the failure in
// commit-each mode and wraps the cause.  In ambient modes the engine owns
// the rollback of the surrounding transaction.
func (x *executor) fail(ctx context.Context, script *MigrationScript, start time.Time, cause error) error {
	elapsed := time.Since(start)
	sess := x.driver.Session()
	if x.cfg.TransactionMode == CommitEach {
		if sess.InTransaction() {
			if err := sess.Rollback(ctx); err != nil {
				x.log.Warn("rollback failed", "script", script.Name, "error", err)
			}
		}
		if err := x.store.SaveMigration(ctx, script, false, elapsed); err != nil {
			x.log.Warn("could not record failed migration", "script", script.Name, "error", err)
		}
	}
	return &ExecutionError{Script: script.Name, Elapsed: elapsed, err: cause}
}
