package ascend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	body := `
-- leading comment; with a semicolon
CREATE TABLE a (id int);

INSERT INTO a VALUES ('x;y');
/* block; comment */
INSERT INTO a (name) VALUES ('it''s');
`
	stmts := splitStatements(body, splitOptions{})
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "'x;y'")
	assert.Contains(t, stmts[2], "'it''s'")
}

func TestSplitStatementsDollarQuotes(t *testing.T) {
	body := `
CREATE FUNCTION f() RETURNS void AS $$
BEGIN
  UPDATE a SET id = 1;
END;
$$ LANGUAGE plpgsql;
SELECT 1;
`
	stmts := splitStatements(body, splitOptions{dollarQuotes: true})
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "LANGUAGE plpgsql")
	assert.Equal(t, "SELECT 1", stmts[1])
}

func TestSplitStatementsBackticks(t *testing.T) {
	body := "CREATE TABLE `a;b` (id int); SELECT 1;"
	stmts := splitStatements(body, splitOptions{backticks: true})
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "`a;b`")
}

func TestStatementBuilderPlaceholders(t *testing.T) {
	builder := sqlStatementBuilder{}
	stmts, err := builder.LoadStatements("GRANT ALL ON ${table} TO ${owner};",
		map[string]string{"${table}": "users", "${owner}": "app"})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "GRANT ALL ON users TO app", stmts[0].SQL)
	assert.True(t, stmts[0].MustExecuteInTransaction)
}

func TestPostgresNoTransactionStatements(t *testing.T) {
	builder := sqlStatementBuilder{opt: splitOptions{dollarQuotes: true, noTxPatterns: pgNoTxPatterns}}
	stmts, err := builder.LoadStatements(`
CREATE INDEX CONCURRENTLY idx_a ON a (id);
CREATE TABLE b (id int);
VACUUM a;
`, nil)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.False(t, stmts[0].MustExecuteInTransaction)
	assert.True(t, stmts[1].MustExecuteInTransaction)
	assert.False(t, stmts[2].MustExecuteInTransaction)
}

func TestPgRebind(t *testing.T) {
	assert.Equal(t, "SELECT $1, $2, $3", pgDialect{}.Rebind("SELECT ?, ?, ?"))
	assert.Equal(t, "SELECT 1", pgDialect{}.Rebind("SELECT 1"))
}

func TestQualifyTable(t *testing.T) {
	assert.Equal(t, `"public"."changelog"`, pgDialect{}.QualifyTable("public", "changelog"))
	assert.Equal(t, `"changelog"`, pgDialect{}.QualifyTable("", "changelog"))
	assert.Equal(t, "`app`.`changelog`", mysqlDialect{}.QualifyTable("app", "changelog"))
	assert.Equal(t, `"changelog"`, sqliteDialect{}.QualifyTable("main", "changelog"))
}
