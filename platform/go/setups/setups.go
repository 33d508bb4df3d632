package setups

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// DotEnvPathEnv points at an alternative .env file.
const DotEnvPathEnv = "MODDY_ENV_FILE"

// Database is the pool configuration shared by every binary.
type Database struct {
	URL            string        `env:"DATABASE_URL,required"`
	MinConns       int32         `env:"DB_POOL_MIN_SIZE" envDefault:"5"`
	MaxConns       int32         `env:"DB_POOL_MAX_SIZE" envDefault:"20"`
	CommandTimeout time.Duration `env:"DB_COMMAND_TIMEOUT" envDefault:"60s"`
}

// PoolConfig maps the env values onto persistence.PoolConfig.
func (d Database) PoolConfig(application string) persistence.PoolConfig {
	return persistence.PoolConfig{
		ConnString:      d.URL,
		MinConns:        d.MinConns,
		MaxConns:        d.MaxConns,
		CommandTimeout:  d.CommandTimeout,
		ApplicationName: application,
	}
}

// LoadDotEnv loads variables from MODDY_ENV_FILE or ./.env without overriding
// the real environment. A missing file is not an error.
func LoadDotEnv() error {
	path := os.Getenv(DotEnvPathEnv)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the .env file then parses the environment into cfg.
func Load(cfg any) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
