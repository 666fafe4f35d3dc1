// Package main implements the ascend CLI.
// It loads optional settings from a YAML configuration file and a .env
// file, parses command-line flags, builds a database connection and runs
// one of the engine commands.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib"  // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver

	"github.com/ascend-db/ascend"
)

// version of the CLI.
const version = "1.0.0"

// fileConfig mirrors the YAML configuration file.
type fileConfig struct {
	Driver                 string            `yaml:"driver,omitempty"`
	URL                    string            `yaml:"url,omitempty"`
	Schemas                []string          `yaml:"schemas,omitempty"`
	Table                  string            `yaml:"table,omitempty"`
	TableSchema            string            `yaml:"tableSchema,omitempty"`
	Locations              []string          `yaml:"locations,omitempty"`
	StartVersion           string            `yaml:"startVersion,omitempty"`
	TargetVersion          string            `yaml:"targetVersion,omitempty"`
	OutOfOrder             *bool             `yaml:"outOfOrder,omitempty"`
	TransactionMode        string            `yaml:"transactionMode,omitempty"`
	ClusterMode            *bool             `yaml:"clusterMode,omitempty"`
	EraseDisabled          *bool             `yaml:"eraseDisabled,omitempty"`
	EraseOnValidationError *bool             `yaml:"eraseOnValidationError,omitempty"`
	RetryRepeatable        *bool             `yaml:"retryRepeatableMigrationsUntilNoError,omitempty"`
	SkipNextMigrations     *bool             `yaml:"skipNextMigrations,omitempty"`
	CommandTimeout         int               `yaml:"commandTimeout,omitempty"`
	AmbientTimeout         int               `yaml:"ambientTransactionTimeout,omitempty"`
	Placeholders           map[string]string `yaml:"placeholders,omitempty"`
	Encoding               string            `yaml:"encoding,omitempty"`
}

// usage prints the help text.
func usage() {
	header := `Usage:
  ascend [command] [options]

Commands:
  migrate       Apply pending migration scripts up to the target version.
  validate      Check that the database and the script sources agree.
  repair        Rewrite drifted checksums in the changelog table.
  erase         Drop or empty the managed schemas.
  info          List the state of every known script and changelog row.
  new <desc>    Create a new empty migration script with the description.

Options:`
	fmt.Fprintln(os.Stderr, header)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	envPath := flag.String("env", "", "Path to a .env file loaded into the environment (default: .env if present)")
	driver := flag.String("driver", "", "Database driver: pg, mysql or sqlite")
	url := flag.String("url", "", "Database connection string. Overrides DATABASE_URL.")
	schemas := flag.String("schemas", "", "Comma-separated schemas to manage (default: the connection's current schema)")
	table := flag.String("table", "", `Name of the changelog table (default "changelog")`)
	tableSchema := flag.String("table-schema", "", "Schema holding the changelog table (default: first managed schema)")
	locations := flag.String("locations", "", "Comma-separated directories containing migration scripts")
	startVersion := flag.String("start", "", "Versions strictly below are intentionally skipped")
	targetVersion := flag.String("target", "", `Inclusive upper bound on versions to apply (default "max")`)
	outOfOrder := flag.Bool("out-of-order", false, "Apply scripts whose version is behind the last applied version")
	txMode := flag.String("transaction-mode", "", "commit-each, commit-all or rollback-all")
	cluster := flag.Bool("cluster", true, "Serialize concurrent runners through cluster locks")
	eraseDisabled := flag.Bool("erase-disabled", false, "Refuse to erase the database")
	eraseOnValidationError := flag.Bool("erase-on-validation-error", false, "Erase and rebuild when Migrate's validation fails")
	retryRepeatable := flag.Bool("retry-repeatable", false, "Retry failed repeatable scripts while progress occurs")
	skipNext := flag.Bool("skip-next", false, "Record pending forward scripts as applied without executing them")
	commandTimeout := flag.Int("command-timeout", 0, "Per-statement timeout in seconds (0 = none)")
	ambientTimeout := flag.Int("ambient-timeout", 0, "Ambient transaction timeout in seconds (0 = none)")
	placeholders := flag.String("placeholders", "", "Comma-separated key=value placeholder pairs")
	repeatable := flag.Bool("repeatable", false, `With "new": scaffold a repeatable script`)
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	helpFlag := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")

	flag.Usage = usage
	flag.Parse()

	if *helpFlag {
		usage()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println("ascend version:", version)
		os.Exit(0)
	}

	// Safeguard: flags must precede the command.
	if flag.NArg() > 1 {
		for _, arg := range flag.Args()[1:] {
			if strings.HasPrefix(arg, "-") {
				fatal(fmt.Errorf("flags must be specified before the command; please reorder your arguments"))
			}
		}
	}

	// Environment file: explicit path is an error when missing, the
	// default .env is best-effort.
	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fatal(fmt.Errorf("could not load %s: %w", *envPath, err))
		}
	} else {
		_ = godotenv.Load()
	}

	var fileCfg fileConfig
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fatal(fmt.Errorf("could not read config file: %w", err))
		}
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			fatal(fmt.Errorf("could not parse config file: %w", err))
		}
	}

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	cfg := ascend.NewConfig()
	applyFileConfig(&cfg, fileCfg)

	if setFlags["schemas"] {
		cfg.Schemas = splitList(*schemas)
	}
	if setFlags["table"] {
		cfg.MetadataTableName = *table
	}
	if setFlags["table-schema"] {
		cfg.MetadataTableSchema = *tableSchema
	}
	if setFlags["locations"] {
		cfg.Locations = splitList(*locations)
	}
	if setFlags["start"] {
		cfg.StartVersion = parseVersionArg(*startVersion, ascend.MinVersion)
	}
	if setFlags["target"] {
		cfg.TargetVersion = parseVersionArg(*targetVersion, ascend.MaxVersion)
	}
	if setFlags["out-of-order"] {
		cfg.OutOfOrder = *outOfOrder
	}
	if setFlags["transaction-mode"] {
		mode, err := ascend.ParseTransactionMode(*txMode)
		if err != nil {
			fatal(err)
		}
		cfg.TransactionMode = mode
	}
	if setFlags["cluster"] {
		cfg.EnableClusterMode = *cluster
	}
	if setFlags["erase-disabled"] {
		cfg.IsEraseDisabled = *eraseDisabled
	}
	if setFlags["erase-on-validation-error"] {
		cfg.MustEraseOnValidationError = *eraseOnValidationError
	}
	if setFlags["retry-repeatable"] {
		cfg.RetryRepeatableMigrationsUntilNoError = *retryRepeatable
	}
	if setFlags["skip-next"] {
		cfg.SkipNextMigrations = *skipNext
	}
	if setFlags["command-timeout"] {
		cfg.CommandTimeout = time.Duration(*commandTimeout) * time.Second
	}
	if setFlags["ambient-timeout"] {
		cfg.AmbientTransactionTimeout = time.Duration(*ambientTimeout) * time.Second
	}
	if setFlags["placeholders"] {
		cfg.Placeholders = parsePlaceholders(*placeholders)
	}

	command := "migrate"
	if flag.NArg() > 0 {
		command = strings.ToLower(flag.Arg(0))
	}

	// "new" needs no database connection.
	if command == "new" {
		if flag.NArg() < 2 {
			fatal(fmt.Errorf("usage: ascend new <description>"))
		}
		path, err := ascend.CreateScript(cfg, strings.Join(flag.Args()[1:], " "), *repeatable)
		if err != nil {
			fatal(err)
		}
		fmt.Println("Created", path)
		return
	}

	driverName := firstNonEmpty(*driver, fileCfg.Driver, "pg")
	connStr := firstNonEmpty(*url, fileCfg.URL, os.Getenv("DATABASE_URL"))
	if connStr == "" {
		fatal(fmt.Errorf("no connection string: use -url, DATABASE_URL or the config file"))
	}

	db, drv, err := openDriver(driverName, connStr, cfg)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}))
	eng, err := ascend.NewEngine(cfg, drv, ascend.WithLogger(log))
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	switch command {
	case "migrate":
		err = eng.Migrate(ctx)
	case "validate":
		err = eng.Validate(ctx)
	case "repair":
		err = eng.Repair(ctx)
	case "erase":
		err = eng.Erase(ctx)
	case "info":
		var rows []ascend.InfoRow
		if rows, err = eng.Info(ctx); err == nil {
			err = ascend.RenderInfo(os.Stdout, rows)
		}
	default:
		usage()
		fatal(fmt.Errorf("unknown command %q", command))
	}
	if err != nil {
		fatal(err)
	}

	report := eng.Report()
	fmt.Printf("%s finished in %s (%d migration(s) applied, %d repaired)\n",
		command, report.TotalTimeElapsed.Round(time.Millisecond), report.NbMigration, report.NbReparation)
}

func openDriver(name, connStr string, cfg ascend.Config) (*sql.DB, ascend.Driver, error) {
	switch strings.ToLower(name) {
	case "pg", "postgres", "postgresql":
		db, err := sql.Open("pgx", connStr)
		if err != nil {
			return nil, nil, err
		}
		return db, ascend.NewPostgresDriver(db, cfg), nil
	case "mysql", "mariadb":
		db, err := sql.Open("mysql", connStr)
		if err != nil {
			return nil, nil, err
		}
		return db, ascend.NewMysqlDriver(db, cfg), nil
	case "sqlite", "sqlite3":
		db, err := sql.Open("sqlite3", connStr)
		if err != nil {
			return nil, nil, err
		}
		return db, ascend.NewSqliteDriver(db, cfg), nil
	}
	return nil, nil, fmt.Errorf("db driver %q not supported; must be one of: pg, mysql or sqlite", name)
}

func applyFileConfig(cfg *ascend.Config, f fileConfig) {
	if len(f.Schemas) > 0 {
		cfg.Schemas = f.Schemas
	}
	if f.Table != "" {
		cfg.MetadataTableName = f.Table
	}
	if f.TableSchema != "" {
		cfg.MetadataTableSchema = f.TableSchema
	}
	if len(f.Locations) > 0 {
		cfg.Locations = f.Locations
	}
	if f.StartVersion != "" {
		cfg.StartVersion = parseVersionArg(f.StartVersion, ascend.MinVersion)
	}
	if f.TargetVersion != "" {
		cfg.TargetVersion = parseVersionArg(f.TargetVersion, ascend.MaxVersion)
	}
	if f.OutOfOrder != nil {
		cfg.OutOfOrder = *f.OutOfOrder
	}
	if f.TransactionMode != "" {
		if mode, err := ascend.ParseTransactionMode(f.TransactionMode); err == nil {
			cfg.TransactionMode = mode
		}
	}
	if f.ClusterMode != nil {
		cfg.EnableClusterMode = *f.ClusterMode
	}
	if f.EraseDisabled != nil {
		cfg.IsEraseDisabled = *f.EraseDisabled
	}
	if f.EraseOnValidationError != nil {
		cfg.MustEraseOnValidationError = *f.EraseOnValidationError
	}
	if f.RetryRepeatable != nil {
		cfg.RetryRepeatableMigrationsUntilNoError = *f.RetryRepeatable
	}
	if f.SkipNextMigrations != nil {
		cfg.SkipNextMigrations = *f.SkipNextMigrations
	}
	if f.CommandTimeout > 0 {
		cfg.CommandTimeout = time.Duration(f.CommandTimeout) * time.Second
	}
	if f.AmbientTimeout > 0 {
		cfg.AmbientTransactionTimeout = time.Duration(f.AmbientTimeout) * time.Second
	}
	if len(f.Placeholders) > 0 {
		cfg.Placeholders = f.Placeholders
	}
	if f.Encoding != "" {
		cfg.Encoding = f.Encoding
	}
}

// parseVersionArg accepts a version label.  "0" yields MinVersion; an empty
// value, "max" or "latest" yields the given default sentinel.
func parseVersionArg(s string, sentinel ascend.Version) ascend.Version {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max", "latest":
		return sentinel
	case "0":
		return ascend.MinVersion
	}
	v, err := ascend.ParseVersion(s)
	if err != nil {
		fatal(err)
	}
	return v
}

func parsePlaceholders(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitList(s) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			fatal(fmt.Errorf("invalid placeholder %q: want key=value", pair))
		}
		out[key] = value
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
