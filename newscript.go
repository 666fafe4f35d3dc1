package ascend

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CreateScript scaffolds a new empty migration script in the first
// configured location and returns its path.
// description: a human-readable description, snake-cased for the filename.
// repeatable: scaffold an R script instead of the next V script.
func CreateScript(cfg Config, description string, repeatable bool) (string, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Locations) == 0 {
		return "", configurationErrorf("no script location configured")
	}
	folder := cfg.Locations[0]

	desc := snakeCase(description)
	if desc == "" {
		return "", configurationErrorf("script description is empty")
	}

	var filename string
	if repeatable {
		filename = cfg.SQLRepeatableMigrationPrefix + cfg.SQLMigrationSeparator + desc + cfg.SQLMigrationSuffix
	} else {
		// Next version: highest discovered major component plus one.
		scripts, err := NewFileLoader(cfg).GetMigrations()
		if err != nil {
			return "", err
		}
		next := int64(1)
		for _, script := range scripts {
			if n := script.Version.parts[0]; n >= next {
				next = n + 1
			}
		}
		filename = fmt.Sprintf("%s%d%s%s%s", cfg.SQLMigrationPrefix, next, cfg.SQLMigrationSeparator, desc, cfg.SQLMigrationSuffix)
	}

	path := filepath.Join(folder, filename)
	if _, err := os.Stat(path); err == nil {
		return "", configurationErrorf("script %s already exists", path)
	}
	if err := os.WriteFile(path, []byte("-- Write your migration SQL here\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration script %s: %w", path, err)
	}
	return path, nil
}

// snakeCase converts a description to a lowercase underscore-separated word.
func snakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	re := regexp.MustCompile("[^a-z0-9]+")
	s = re.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
