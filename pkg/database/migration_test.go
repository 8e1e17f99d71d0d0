package database

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000001_host_relationships.up.sql",
		"000001_host_relationships.down.sql",
		"000002_hbi_event_outbox.up.sql",
		"000002_hbi_event_outbox.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	latest, err := getLatestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	_, err = getLatestVersion(t.TempDir())
	assert.Error(t, err)
}

func TestRepositoryMigrationsArePaired(t *testing.T) {
	latest, err := getLatestVersion("../../db/pg")
	require.NoError(t, err)

	for v := 1; v <= latest; v++ {
		ups, _ := filepath.Glob(filepath.Join("../../db/pg", fmt.Sprintf("%06d_*", v)+".up.sql"))
		downs, _ := filepath.Glob(filepath.Join("../../db/pg", fmt.Sprintf("%06d_*", v)+".down.sql"))
		assert.Len(t, ups, 1, "version %d up", v)
		assert.Len(t, downs, 1, "version %d down", v)
	}
}
