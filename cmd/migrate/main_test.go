package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFromFile(t *testing.T) {
	v, err := versionFromFile("001_compliance_ledger.up.sql")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = versionFromFile("012_x.up.sql")
	require.NoError(t, err)
	assert.EqualValues(t, 12, v)

	_, err = versionFromFile("init.sql")
	assert.Error(t, err)
	_, err = versionFromFile("abc_init.up.sql")
	assert.Error(t, err)
}

func TestMigrationFiles_sortedUpOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o700))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.up.sql", "002_b.up.sql"}, files)
}

func TestMigrationFiles_repoSchema(t *testing.T) {
	files, err := migrationFiles(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_compliance_ledger.up.sql",
		"002_compliance_ledger_append_only.up.sql",
	}, files)
}
