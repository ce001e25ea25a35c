package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
)

// app is the state shared by the commands of one invocation.
type app struct {
	cfgFile string
	cfg     *Config
	log     *slog.Logger
	stats   *sql.StatsDriver
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "orbit",
		Short: "Criteria queries and nested-set trees",
		Long: `orbit renders YAML query documents as SQL for any supported dialect,
and inspects nested-set trees stored in a database.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := loadConfig(cmd, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			level := slog.LevelInfo
			if cfg.Debug {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.stats != nil {
				a.log.Debug("statements", "stats", a.stats.QueryStats().Stats().String())
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default: ./orbit.yaml when present)")
	f.String("dialect", "", "SQL dialect: "+dialect.Postgres+", "+dialect.MySQL+", "+dialect.SQLite+" or "+dialect.MSSQL)
	f.String("driver", "", "database/sql driver name (default: derived from the dialect)")
	f.String("dsn", "", "data source name")
	f.Bool("debug", false, "log every statement")
	f.Duration("slow-threshold", 100*time.Millisecond, "log statements slower than this")
	f.Bool("quote-identifiers", false, "quote table and column names")

	root.AddCommand(newQueryCmd(a), newTreeCmd(a))
	return root
}

// connect opens the configured database.
func (a *app) connect() (dialect.Driver, error) {
	drv, stats, err := a.cfg.open(a.log)
	if err != nil {
		return nil, err
	}
	a.stats = stats
	return drv, nil
}
