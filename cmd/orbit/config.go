package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
)

// Config holds the settings shared by every command.
type Config struct {
	Dialect          string        `mapstructure:"dialect"`
	Driver           string        `mapstructure:"driver"`
	DSN              string        `mapstructure:"dsn"`
	Debug            bool          `mapstructure:"debug"`
	SlowThreshold    time.Duration `mapstructure:"slow-threshold"`
	QuoteIdentifiers bool          `mapstructure:"quote-identifiers"`
}

// database/sql driver registered for each dialect by this binary.
var defaultDrivers = map[string]string{
	dialect.Postgres: "postgres",
	dialect.MySQL:    "mysql",
	dialect.SQLite:   "sqlite",
}

// loadConfig merges flags, ORBIT_* environment variables and the config
// file at path, or ./orbit.yaml when path is empty.
func loadConfig(cmd *cobra.Command, path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orbit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Dialect = strings.ToLower(c.Dialect)
	switch {
	case c.Dialect == "" && c.Driver != "":
		a, err := sql.AdapterFor(c.Driver)
		if err != nil {
			return orbit.NewConfigError("config", "cannot derive a dialect from driver %q, set --dialect", c.Driver)
		}
		c.Dialect = a.Dialect()
	case c.Dialect == "":
		c.Dialect = dialect.Postgres
	}
	if _, err := sql.AdapterFor(c.Dialect); err != nil {
		return err
	}
	if c.Driver == "" {
		c.Driver = defaultDrivers[c.Dialect]
	}
	return nil
}

func (c *Config) adapter() (sql.Adapter, error) {
	return sql.AdapterFor(c.Dialect)
}

// open connects to the configured database. Statements are counted by the
// returned stats driver and logged when debugging.
func (c *Config) open(log *slog.Logger) (dialect.Driver, *sql.StatsDriver, error) {
	if c.DSN == "" {
		return nil, nil, orbit.NewConfigError("open", "a dsn is required, set --dsn or ORBIT_DSN")
	}
	if c.Driver == "" {
		return nil, nil, orbit.NewConfigError("open", "no driver is registered for dialect %s, set --driver", c.Dialect)
	}
	if c.Driver == "mysql" {
		if _, err := mysql.ParseDSN(c.DSN); err != nil {
			return nil, nil, orbit.NewConfigError("open", "invalid mysql dsn: %v", err)
		}
	}
	drv, err := sql.Open(c.Driver, c.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if drv.Dialect() != c.Dialect {
		_ = drv.Close()
		return nil, nil, orbit.NewConfigError("open", "driver %s speaks %s, not %s", c.Driver, drv.Dialect(), c.Dialect)
	}
	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(c.SlowThreshold), sql.WithStatsLogger(log))
	if c.Debug {
		return sql.NewDebugDriver(stats, sql.DebugWithLogger(log)), stats, nil
	}
	return stats, stats, nil
}
