package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration, loaded from defaults, an optional
// YAML file, and PAGESYNC_-prefixed environment variables (in increasing
// precedence).
type Config struct {
	ListenAddr string
	DBDriver   string // sqlite | postgres | mysql
	DBDSN      string

	// FlushInterval is how long a page may stay dirty before the scheduler
	// flushes it. Zero disables the background loop; documents then persist
	// only when their last connection leaves.
	FlushInterval time.Duration
	// FlushTick is the scheduler polling period.
	FlushTick time.Duration

	LogLevel string
	LogFile  string // when set, logs rotate here instead of stdout
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", "localhost:8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "pagesync.sqlite3")
	v.SetDefault("flush_interval", "5s")
	v.SetDefault("flush_tick", "1s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("PAGESYNC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return &Config{
		ListenAddr:    v.GetString("listen_addr"),
		DBDriver:      v.GetString("db_driver"),
		DBDSN:         v.GetString("db_dsn"),
		FlushInterval: v.GetDuration("flush_interval"),
		FlushTick:     v.GetDuration("flush_tick"),
		LogLevel:      v.GetString("log_level"),
		LogFile:       v.GetString("log_file"),
	}, nil
}
