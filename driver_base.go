package ascend

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"
)

// dbQuerier is the subset of database/sql execution methods shared by
// *sql.DB, *sql.Conn and *sql.Tx.
type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// baseDriver carries what every SQL dialect driver shares: the pool, the
// merged configuration and the lazily opened session.  A runner is
// single-threaded, so no locking guards the lazy fields.
type baseDriver struct {
	db   *sql.DB
	cfg  Config
	sess *sqlSession
}

func newBaseDriver(db *sql.DB, cfg Config) baseDriver {
	return baseDriver{db: db, cfg: cfg.withDefaults()}
}

// Session returns the driver's single long-lived session.
func (d *baseDriver) Session() Session {
	if d.sess == nil {
		d.sess = &sqlSession{db: d.db}
	}
	return d.sess
}

// querier routes statements through the open transaction when there is one,
// so that in commit-all and rollback-all modes changelog writes share the
// ambient transaction's fate.
func (d *baseDriver) querier() dbQuerier {
	if d.sess != nil {
		return d.sess.querier()
	}
	return d.db
}

// sessionQuerier pins the session connection and returns it, for
// per-connection constructs such as advisory locks.
func (d *baseDriver) sessionQuerier(ctx context.Context) (dbQuerier, error) {
	d.Session()
	if err := d.sess.ensureConn(ctx); err != nil {
		return nil, err
	}
	return d.sess.querier(), nil
}

func (d *baseDriver) HasMonotonicID() bool      { return true }
func (d *baseDriver) SupportsTransactions() bool { return true }

// sqlSession implements Session over a dedicated *sql.Conn so an explicit
// transaction spans successive Execute calls.
type sqlSession struct {
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
}

func (s *sqlSession) ensureConn(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *sqlSession) querier() dbQuerier {
	if s.tx != nil {
		return s.tx
	}
	if s.conn != nil {
		return s.conn
	}
	return s.db
}

func (s *sqlSession) Begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	if err := s.ensureConn(ctx); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

func (s *sqlSession) Commit(context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *sqlSession) Rollback(context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *sqlSession) InTransaction() bool { return s.tx != nil }

func (s *sqlSession) Execute(ctx context.Context, sqlText string, timeout time.Duration) error {
	if err := s.ensureConn(ctx); err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := s.querier().ExecContext(ctx, sqlText)
	return err
}

func (s *sqlSession) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// splitOptions tunes the generic statement splitter per dialect.
type splitOptions struct {
	dollarQuotes bool // recognize $tag$ ... $tag$ (PostgreSQL)
	backticks    bool // recognize ` quoting (MySQL)
	noTxPatterns []*regexp.Regexp
}

// sqlStatementBuilder is the shared StatementBuilder: textual placeholder
// replacement followed by quote- and comment-aware splitting on semicolons.
type sqlStatementBuilder struct {
	opt splitOptions
}

func (b sqlStatementBuilder) LoadStatements(body string, placeholders map[string]string) ([]Statement, error) {
	for token, value := range placeholders {
		body = strings.ReplaceAll(body, token, value)
	}
	var out []Statement
	for _, raw := range splitStatements(body, b.opt) {
		out = append(out, Statement{
			SQL:                      raw,
			MustExecuteInTransaction: !b.opt.matchesNoTx(raw),
		})
	}
	return out, nil
}

func (o splitOptions) matchesNoTx(stmt string) bool {
	for _, re := range o.noTxPatterns {
		if re.MatchString(stmt) {
			return true
		}
	}
	return false
}

var dollarTagRe = regexp.MustCompile(`^\$[A-Za-z_0-9]*\$`)

// splitStatements splits a script on top-level semicolons.  Single quotes,
// double quotes, line and block comments are honored; dollar quoting and
// backticks are dialect opt-ins.
func splitStatements(body string, opt splitOptions) []string {
	var (
		out     []string
		current strings.Builder
	)
	i := 0
	for i < len(body) {
		rest := body[i:]
		switch {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			current.WriteString(rest[:end])
			i += end
		case strings.HasPrefix(rest, "/*"):
			n := len(rest)
			if end := strings.Index(rest[2:], "*/"); end >= 0 {
				n = 2 + end + 2
			}
			current.WriteString(rest[:n])
			i += n
		case rest[0] == '\'':
			n := scanQuoted(rest, '\'')
			current.WriteString(rest[:n])
			i += n
		case rest[0] == '"':
			n := scanQuoted(rest, '"')
			current.WriteString(rest[:n])
			i += n
		case opt.backticks && rest[0] == '`':
			n := scanQuoted(rest, '`')
			current.WriteString(rest[:n])
			i += n
		case opt.dollarQuotes && rest[0] == '$':
			tag := dollarTagRe.FindString(rest)
			if tag == "" {
				current.WriteByte('$')
				i++
				break
			}
			end := strings.Index(rest[len(tag):], tag)
			if end < 0 {
				end = len(rest) - len(tag)
			}
			n := len(tag) + end + len(tag)
			if n > len(rest) {
				n = len(rest)
			}
			current.WriteString(rest[:n])
			i += n
		case rest[0] == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				out = append(out, stmt)
			}
			current.Reset()
			i++
		default:
			current.WriteByte(rest[0])
			i++
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// scanQuoted returns the length of the quoted token at the start of s,
// treating a doubled quote as an escape.
func scanQuoted(s string, quote byte) int {
	i := 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}
