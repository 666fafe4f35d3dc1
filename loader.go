package ascend

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// MigrationLoader enumerates migration scripts from a source.
// GetMigrations returns versioned scripts in ascending version order;
// GetRepeatableMigrations returns repeatable scripts in a stable order.
type MigrationLoader interface {
	GetMigrations() ([]*MigrationScript, error)
	GetRepeatableMigrations() ([]*MigrationScript, error)
}

// newLoader picks the loader once: embedded bundles win over file locations
// when any are configured.
func newLoader(cfg Config) MigrationLoader {
	if len(cfg.FileSystems) > 0 {
		return &FSLoader{cfg: cfg, fileSystems: cfg.FileSystems}
	}
	return &FileLoader{cfg: cfg}
}

// FileLoader discovers scripts on disk by globbing every configured
// location for files carrying the migration suffix.
type FileLoader struct {
	cfg Config
}

// NewFileLoader returns a loader over cfg.Locations.
func NewFileLoader(cfg Config) *FileLoader {
	return &FileLoader{cfg: cfg.withDefaults()}
}

func (l *FileLoader) scan() (*scriptSet, error) {
	set := newScriptSet(l.cfg)
	for _, loc := range l.cfg.Locations {
		files, err := filepath.Glob(filepath.Join(loc, "*"+l.cfg.SQLMigrationSuffix))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
		for _, file := range files {
			path := file
			if err := set.add(filepath.Base(file), func() ([]byte, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, err
				}
				return decodeScript(data, l.cfg.Encoding)
			}); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

// GetMigrations returns the discovered versioned scripts, ascending.
func (l *FileLoader) GetMigrations() ([]*MigrationScript, error) {
	set, err := l.scan()
	if err != nil {
		return nil, err
	}
	return set.versioned(), nil
}

// GetRepeatableMigrations returns the discovered repeatable scripts by name.
func (l *FileLoader) GetRepeatableMigrations() ([]*MigrationScript, error) {
	set, err := l.scan()
	if err != nil {
		return nil, err
	}
	return set.repeatable(), nil
}

// FSLoader discovers scripts inside fs.FS values, typically go:embed
// bundles compiled into the binary.
type FSLoader struct {
	cfg         Config
	fileSystems []fs.FS
}

// NewFSLoader returns a loader over the given file systems.
func NewFSLoader(cfg Config, fileSystems ...fs.FS) *FSLoader {
	return &FSLoader{cfg: cfg.withDefaults(), fileSystems: fileSystems}
}

func (l *FSLoader) scan() (*scriptSet, error) {
	set := newScriptSet(l.cfg)
	for _, fsys := range l.fileSystems {
		fsys := fsys
		err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(name, l.cfg.SQLMigrationSuffix) {
				return nil
			}
			p := name
			return set.add(path.Base(name), func() ([]byte, error) {
				data, err := fs.ReadFile(fsys, p)
				if err != nil {
					return nil, err
				}
				return decodeScript(data, l.cfg.Encoding)
			})
		})
		if err != nil {
			return nil, err
		}
	}
	return set, nil
}

// GetMigrations returns the discovered versioned scripts, ascending.
func (l *FSLoader) GetMigrations() ([]*MigrationScript, error) {
	set, err := l.scan()
	if err != nil {
		return nil, err
	}
	return set.versioned(), nil
}

// GetRepeatableMigrations returns the discovered repeatable scripts by name.
func (l *FSLoader) GetRepeatableMigrations() ([]*MigrationScript, error) {
	set, err := l.scan()
	if err != nil {
		return nil, err
	}
	return set.repeatable(), nil
}

// scriptSet accumulates parsed scripts and enforces the uniqueness
// invariants: one script per version, no name collisions.
type scriptSet struct {
	cfg        Config
	byName     map[string]struct{}
	byVersion  map[string]string // version label -> script name
	versionedS []*MigrationScript
	repeatS    []*MigrationScript
}

func newScriptSet(cfg Config) *scriptSet {
	return &scriptSet{
		cfg:       cfg,
		byName:    make(map[string]struct{}),
		byVersion: make(map[string]string),
	}
}

func (s *scriptSet) add(name string, body func() ([]byte, error)) error {
	script, ok, err := parseScriptName(s.cfg, name, body)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, dup := s.byName[script.Name]; dup {
		return configurationErrorf("duplicate migration script name %q", script.Name)
	}
	s.byName[script.Name] = struct{}{}
	if script.Category == Versioned {
		label := script.Version.String()
		if prev, dup := s.byVersion[label]; dup {
			return configurationErrorf("duplicate migration version %s: %q and %q", label, prev, script.Name)
		}
		s.byVersion[label] = script.Name
		s.versionedS = append(s.versionedS, script)
	} else {
		s.repeatS = append(s.repeatS, script)
	}
	return nil
}

func (s *scriptSet) versioned() []*MigrationScript {
	out := append([]*MigrationScript(nil), s.versionedS...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Less(out[j].Version) })
	return out
}

func (s *scriptSet) repeatable() []*MigrationScript {
	out := append([]*MigrationScript(nil), s.repeatS...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// parseScriptName parses a file name against the configured convention.
// Files that carry the suffix but match neither prefix are skipped (ok is
// false); files that match a prefix but are malformed are an error.
func parseScriptName(cfg Config, name string, body func() ([]byte, error)) (*MigrationScript, bool, error) {
	if !strings.HasSuffix(name, cfg.SQLMigrationSuffix) {
		return nil, false, nil
	}
	stem := strings.TrimSuffix(name, cfg.SQLMigrationSuffix)

	if strings.HasPrefix(stem, cfg.SQLRepeatableMigrationPrefix+cfg.SQLMigrationSeparator) {
		raw := strings.TrimPrefix(stem, cfg.SQLRepeatableMigrationPrefix+cfg.SQLMigrationSeparator)
		if raw == "" {
			return nil, false, configurationErrorf("repeatable migration %q has no description", name)
		}
		always := strings.HasSuffix(raw, cfg.RepeatAlwaysMarker)
		raw = strings.TrimSuffix(raw, cfg.RepeatAlwaysMarker)
		script := NewMigrationScript(Repeatable, Version{}, name, describeScript(raw), body)
		script.MustRepeatAlways = always
		return script, true, nil
	}

	if strings.HasPrefix(stem, cfg.SQLMigrationPrefix) {
		rest := strings.TrimPrefix(stem, cfg.SQLMigrationPrefix)
		label, raw, found := strings.Cut(rest, cfg.SQLMigrationSeparator)
		if !found || raw == "" {
			return nil, false, configurationErrorf("versioned migration %q does not match %s<version>%s<description>%s",
				name, cfg.SQLMigrationPrefix, cfg.SQLMigrationSeparator, cfg.SQLMigrationSuffix)
		}
		version, err := ParseVersion(label)
		if err != nil {
			return nil, false, configurationErrorf("versioned migration %q: %v", name, err)
		}
		return NewMigrationScript(Versioned, version, name, describeScript(raw), body), true, nil
	}

	return nil, false, nil
}

func describeScript(raw string) string {
	return strings.ReplaceAll(raw, "_", " ")
}

// decodeScript converts the raw file bytes to UTF-8 per the configured
// encoding.
func decodeScript(data []byte, encoding string) ([]byte, error) {
	switch strings.ToUpper(strings.TrimSpace(encoding)) {
	case "", "UTF-8", "UTF8":
		return data, nil
	case "UTF-16LE":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
	case "UTF-16BE":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes(data)
	}
	return nil, fmt.Errorf("unsupported script encoding %q", encoding)
}
