package remote

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsOrdered(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
}

func TestInitialMigrationCreatesTables(t *testing.T) {
	b, err := fs.ReadFile(migrationFS, "migrations/001_initial_schema.sql")
	require.NoError(t, err)
	sql := strings.ToLower(string(b))
	for _, table := range []string{"questions", "study_sessions", "user_answers", "user_progress"} {
		assert.Contains(t, sql, "create table if not exists "+table, table)
	}
}
