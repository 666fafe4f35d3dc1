package ascend

import "context"

// validateAndRepairWalk walks source scripts inside the applied window
// [effectiveStart, lastApplied] against the changelog.  In repair mode a
// checksum mismatch is fixed in place; otherwise it raises.  Shared by the
// Migrate preamble and the Repair command.
//
// An applied entry without a corresponding script is not this walk's
// concern: the window is derived from source scripts, so only Validate
// reports missing scripts.
func (e *Engine) validateAndRepairWalk(ctx context.Context, versioned []*MigrationScript, effectiveStart Version, repair bool) error {
	exists, err := e.store.IsExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	initialized, err := e.store.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return nil
	}

	applied, err := e.store.GetAllAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	lastApplied := lastAppliedVersion(applied)
	byVersion := make(map[string]MetadataEntry, len(applied))
	for _, entry := range applied {
		byVersion[entry.Version.String()] = entry
	}

	for _, script := range versioned {
		v := script.Version
		if v.Less(effectiveStart) || lastApplied.Less(v) {
			continue
		}
		entry, ok := byVersion[v.String()]
		if !ok {
			if e.cfg.OutOfOrder {
				continue // the out-of-order phase will apply it
			}
			return validationErrorf("out-of-order migration detected: %s (version %s is behind the last applied version %s)", script.Name, v, lastApplied)
		}
		checksum, err := script.CalculateChecksum()
		if err != nil {
			return err
		}
		if entry.Checksum == checksum {
			continue
		}
		if !repair {
			return validationErrorf("invalid checksum for: %s", script.Name)
		}
		if err := e.store.UpdateChecksum(ctx, entry.ID, checksum); err != nil {
			return err
		}
		e.run.NbReparation++
		e.log.Info("repaired checksum", "script", script.Name, "checksum", checksum)
	}
	return nil
}
