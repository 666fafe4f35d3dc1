package ascend

// reconciliation is the pure outcome of comparing script sources against a
// changelog snapshot.  Out-of-order pendings are always computed; callers
// gate on Config.OutOfOrder.
type reconciliation struct {
	lastApplied        Version
	ignoredBeforeStart []*MigrationScript
	pendingForward     []*MigrationScript
	outOfOrderPending  []*MigrationScript
	offTarget          []*MigrationScript
	pendingRepeatable  []*MigrationScript
}

// reconcile computes the disjoint pending, ignored and off-target sets.
// versioned must be sorted ascending (the loader guarantees it); applied and
// appliedRepeatable are successful changelog rows.
func reconcile(versioned, repeatable []*MigrationScript, applied, appliedRepeatable []MetadataEntry, startVersion, targetVersion Version) (*reconciliation, error) {
	rec := &reconciliation{lastApplied: lastAppliedVersion(applied)}

	appliedVersions := make(map[string]struct{}, len(applied))
	for _, entry := range applied {
		appliedVersions[entry.Version.String()] = struct{}{}
	}

	for _, script := range versioned {
		v := script.Version
		switch {
		case v.Less(startVersion):
			rec.ignoredBeforeStart = append(rec.ignoredBeforeStart, script)
		case targetVersion.Less(v):
			rec.offTarget = append(rec.offTarget, script)
		case rec.lastApplied.Less(v):
			rec.pendingForward = append(rec.pendingForward, script)
		default:
			if _, ok := appliedVersions[v.String()]; !ok {
				rec.outOfOrderPending = append(rec.outOfOrderPending, script)
			}
		}
	}

	latest := latestRepeatableEntries(appliedRepeatable)
	for _, script := range repeatable {
		entry, ok := latest[script.Name]
		if !ok || script.MustRepeatAlways {
			rec.pendingRepeatable = append(rec.pendingRepeatable, script)
			continue
		}
		checksum, err := script.CalculateChecksum()
		if err != nil {
			return nil, err
		}
		if entry.Checksum != checksum {
			rec.pendingRepeatable = append(rec.pendingRepeatable, script)
		}
	}
	return rec, nil
}

// lastAppliedVersion is the maximum version over successful Migration rows,
// MinVersion when there are none.
func lastAppliedVersion(applied []MetadataEntry) Version {
	last := MinVersion
	for _, entry := range applied {
		if last.Less(entry.Version) {
			last = entry.Version
		}
	}
	return last
}

// latestRepeatableEntries picks, per script name, the row with the maximum
// installed_on (ties broken by id).
func latestRepeatableEntries(entries []MetadataEntry) map[string]MetadataEntry {
	latest := make(map[string]MetadataEntry, len(entries))
	for _, entry := range entries {
		prev, ok := latest[entry.Name]
		if !ok || prev.InstalledOn.Before(entry.InstalledOn) ||
			(prev.InstalledOn.Equal(entry.InstalledOn) && prev.ID < entry.ID) {
			latest[entry.Name] = entry
		}
	}
	return latest
}
