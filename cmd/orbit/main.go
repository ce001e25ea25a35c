// Command orbit renders query documents as SQL and inspects nested-set
// trees stored in a database.
//
// Usage:
//
//	orbit query books.yaml --dialect mysql
//	orbit query books.yaml --dialect sqlite --dsn shop.db --exec
//	orbit tree show --table category --label name --dialect sqlite --dsn shop.db
//	orbit tree verify --table category --scope-column tree_id --scope 3
//
// Settings are read from flags, ORBIT_* environment variables and an
// optional orbit.yaml, in that order of precedence.
package main

import (
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/orbit"
)

// Exit codes.
const (
	exitGeneral   = 1
	exitConfig    = 2
	exitIntegrity = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, orbit.ErrConfig):
		return exitConfig
	case errors.Is(err, orbit.ErrIntegrity):
		return exitIntegrity
	default:
		return exitGeneral
	}
}
