package ascend

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
)

// InfoRow is one line of the Info listing.
type InfoRow struct {
	ID          string
	Version     string
	Category    string
	Description string
	InstalledOn string
	InstalledBy string
	State       string
	Checksum    string
}

const installedOnFormat = "2006-01-02 15:04:05"

// Info lists pending schema actions, changelog history and every known
// script with its state.  Read-only; takes no cluster locks.
func (e *Engine) Info(ctx context.Context) ([]InfoRow, error) {
	if err := e.prepare(ctx); err != nil {
		return nil, err
	}

	versioned, err := e.loader.GetMigrations()
	if err != nil {
		return nil, err
	}
	repeatable, err := e.loader.GetRepeatableMigrations()
	if err != nil {
		return nil, err
	}

	storeExists, err := e.store.IsExists(ctx)
	if err != nil {
		return nil, err
	}
	var all []MetadataEntry
	if storeExists {
		if all, err = e.store.GetAllMetadata(ctx); err != nil {
			return nil, err
		}
	}

	var rows []InfoRow

	// 1. Pending schema actions.
	for _, name := range e.schemas {
		schema := e.driver.GetSchema(name)
		exists, err := schema.IsExists(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			rows = append(rows, InfoRow{Version: "0", Category: "Schema", Description: "create schema " + name, State: "Pending"})
			continue
		}
		empty, err := schema.IsEmpty(ctx)
		if err != nil {
			return nil, err
		}
		if !empty {
			continue
		}
		marked := false
		if storeExists {
			if marked, err = e.store.IsEmptySchemaMetadataExists(ctx, name); err != nil {
				return nil, err
			}
		}
		if !marked {
			rows = append(rows, InfoRow{Version: "0", Category: "Schema", Description: "mark schema " + name + " as empty", State: "Pending"})
		}
	}

	// 2. Changelog rows before the first migration, by (version, installed_on).
	firstMigration := len(all)
	for i, entry := range all {
		if entry.Type.IsMigration() {
			firstMigration = i
			break
		}
	}
	preamble := append([]MetadataEntry(nil), all[:firstMigration]...)
	sort.SliceStable(preamble, func(i, j int) bool {
		if c := preamble[i].Version.Compare(preamble[j].Version); c != 0 {
			return c < 0
		}
		return preamble[i].InstalledOn.Before(preamble[j].InstalledOn)
	})
	for _, entry := range preamble {
		rows = append(rows, entryRow(entry))
	}

	// Reconciliation for the script-derived sections.
	start, err := e.effectiveStartVersion(ctx)
	if err != nil {
		return nil, err
	}
	var applied, appliedRepeatable []MetadataEntry
	for _, entry := range all {
		if !entry.Success {
			continue
		}
		switch entry.Type {
		case MetadataTypeMigration:
			applied = append(applied, entry)
		case MetadataTypeRepeatableMigration:
			appliedRepeatable = append(appliedRepeatable, entry)
		}
	}
	rec, err := reconcile(versioned, repeatable, applied, appliedRepeatable, start, e.cfg.TargetVersion)
	if err != nil {
		return nil, err
	}

	// 3. Scripts below the start version.
	if rows, err = appendScriptRows(rows, rec.ignoredBeforeStart, "Ignored"); err != nil {
		return nil, err
	}

	// 4. Executed migrations, ordered per the driver's id semantics.
	for _, entry := range orderExecuted(all[firstMigration:], e.driver.HasMonotonicID()) {
		rows = append(rows, entryRow(entry))
	}

	// 5/6. Out-of-order pendings: applicable when the option is on,
	// otherwise advisory ("Lost") for operators who have not enabled it.
	outOfOrderState := "Lost"
	if e.cfg.OutOfOrder {
		outOfOrderState = "Pending"
	}
	if rows, err = appendScriptRows(rows, rec.outOfOrderPending, outOfOrderState); err != nil {
		return nil, err
	}

	// 7/8. Forward and repeatable pendings.
	if rows, err = appendScriptRows(rows, rec.pendingForward, "Pending"); err != nil {
		return nil, err
	}
	if rows, err = appendScriptRows(rows, rec.pendingRepeatable, "Pending"); err != nil {
		return nil, err
	}

	// 9. Scripts above the target version.
	if rows, err = appendScriptRows(rows, rec.offTarget, "Ignored"); err != nil {
		return nil, err
	}
	return rows, nil
}

// orderExecuted keeps id order for monotonic drivers; otherwise migrations
// order by id and repeatables follow by (installed_on, name).
func orderExecuted(entries []MetadataEntry, monotonicID bool) []MetadataEntry {
	out := append([]MetadataEntry(nil), entries...)
	if monotonicID {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri := out[i].Type == MetadataTypeRepeatableMigration
		rj := out[j].Type == MetadataTypeRepeatableMigration
		if ri != rj {
			return !ri
		}
		if !ri {
			return out[i].ID < out[j].ID
		}
		if !out[i].InstalledOn.Equal(out[j].InstalledOn) {
			return out[i].InstalledOn.Before(out[j].InstalledOn)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func entryRow(entry MetadataEntry) InfoRow {
	row := InfoRow{
		ID:          strconv.FormatInt(entry.ID, 10),
		Category:    entry.Type.String(),
		Description: entry.Description,
		InstalledOn: entry.InstalledOn.Format(installedOnFormat),
		InstalledBy: entry.InstalledBy,
		Checksum:    entry.Checksum,
		State:       "Success",
	}
	if entry.Version.IsDefined() {
		row.Version = entry.Version.String()
	}
	if entry.Type.IsMigration() && !entry.Success {
		row.State = "Failed"
	}
	return row
}

func appendScriptRows(rows []InfoRow, scripts []*MigrationScript, state string) ([]InfoRow, error) {
	for _, script := range scripts {
		checksum, err := script.CalculateChecksum()
		if err != nil {
			return nil, err
		}
		row := InfoRow{
			Category:    script.Category.String(),
			Description: script.Description,
			State:       state,
			Checksum:    checksum,
		}
		if script.Category == Versioned {
			row.Version = script.Version.String()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RenderInfo writes the rows as an aligned table.
func RenderInfo(w io.Writer, rows []InfoRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Id\tVersion\tCategory\tDescription\tInstalledOn\tInstalledBy\tState\tChecksum")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.ID, row.Version, row.Category, row.Description,
			row.InstalledOn, row.InstalledBy, row.State, row.Checksum)
	}
	return tw.Flush()
}
