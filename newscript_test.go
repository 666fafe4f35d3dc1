package ascend_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-db/ascend"
)

func TestCreateScript(t *testing.T) {
	dir := t.TempDir()
	cfg := ascend.NewConfig()
	cfg.Locations = []string{dir}

	path, err := ascend.CreateScript(cfg, "Create users", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "V1__create_users.sql"), path)

	// The next script continues from the highest existing version.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "V3__later.sql"), []byte("select 1;"), 0644))
	path, err = ascend.CreateScript(cfg, "add index", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "V4__add_index.sql"), path)

	path, err = ascend.CreateScript(cfg, "views", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "R__views.sql"), path)

	_, err = ascend.CreateScript(cfg, "views", true)
	require.Error(t, err, "existing script is not overwritten")
}

func TestCreateScriptRequiresLocation(t *testing.T) {
	_, err := ascend.CreateScript(ascend.NewConfig(), "x", false)
	var cerr *ascend.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}
