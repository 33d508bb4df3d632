package setups

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Database
	Prefix     string  `env:"DEFAULT_PREFIX" envDefault:"!"`
	Developers []int64 `env:"DEVELOPER_IDS" envSeparator:","`
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=postgres://localhost/moddy\nDEVELOPER_IDS=1,2\nDB_COMMAND_TIMEOUT=5s\n"), 0o600))

	t.Setenv(DotEnvPathEnv, path)
	t.Setenv("DEFAULT_PREFIX", "?")
	// godotenv never overrides, so clear anything the host set
	for _, key := range []string{"DATABASE_URL", "DEVELOPER_IDS", "DB_COMMAND_TIMEOUT", "DB_POOL_MIN_SIZE", "DB_POOL_MAX_SIZE"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	var cfg testConfig
	require.NoError(t, Load(&cfg))
	require.Equal(t, "postgres://localhost/moddy", cfg.URL)
	require.Equal(t, []int64{1, 2}, cfg.Developers)
	require.Equal(t, "?", cfg.Prefix)
	require.Equal(t, int32(5), cfg.MinConns)

	pool := cfg.PoolConfig("moddy-test")
	require.Equal(t, 5*time.Second, pool.CommandTimeout)
	require.Equal(t, "moddy-test", pool.ApplicationName)
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Setenv(DotEnvPathEnv, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, LoadDotEnv())
}
