package ascend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-db/ascend"
)

func bodyOf(content string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(content), nil }
}

func TestChecksumIsStableAcrossLineEndings(t *testing.T) {
	lf := ascend.NewMigrationScript(ascend.Versioned, ascend.MustParseVersion("1"),
		"V1__a.sql", "a", bodyOf("create table a (\n  id int\n);\n"))
	crlf := ascend.NewMigrationScript(ascend.Versioned, ascend.MustParseVersion("1"),
		"V1__a.sql", "a", bodyOf("create table a (\r\n  id int\r\n);\r\n"))

	sumLF, err := lf.CalculateChecksum()
	require.NoError(t, err)
	sumCRLF, err := crlf.CalculateChecksum()
	require.NoError(t, err)
	assert.Equal(t, sumLF, sumCRLF)
	assert.Len(t, sumLF, 32, "md5 hex")
}

func TestChecksumChangesWithBody(t *testing.T) {
	a := ascend.NewMigrationScript(ascend.Versioned, ascend.MustParseVersion("1"),
		"V1__a.sql", "a", bodyOf("select 1;"))
	b := ascend.NewMigrationScript(ascend.Versioned, ascend.MustParseVersion("1"),
		"V1__a.sql", "a", bodyOf("select 2;"))

	sumA, err := a.CalculateChecksum()
	require.NoError(t, err)
	sumB, err := b.CalculateChecksum()
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumB)
}

func TestChecksumIsCached(t *testing.T) {
	calls := 0
	script := ascend.NewMigrationScript(ascend.Repeatable, ascend.Version{}, "R__v.sql", "v",
		func() ([]byte, error) { calls++; return []byte("select 1;"), nil })

	first, err := script.CalculateChecksum()
	require.NoError(t, err)
	second, err := script.CalculateChecksum()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "Versioned", ascend.Versioned.String())
	assert.Equal(t, "Repeatable", ascend.Repeatable.String())
}
