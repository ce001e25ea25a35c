package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/syssam/orbit/dialect/sql"
	"github.com/syssam/orbit/internal/queryfile"
)

type queryOptions struct {
	count bool
	exec  bool
	key   bool
}

func newQueryCmd(a *app) *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query FILE",
		Short: "Render the SQL of a query document",
		Example: `  # Render for MySQL
  orbit query books.yaml --dialect mysql

  # Count the matching rows of a SQLite database
  orbit query books.yaml --dialect sqlite --dsn shop.db --count --exec`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.count, "count", false, "render a COUNT of the matching rows")
	f.BoolVar(&opts.exec, "exec", false, "run the statement and print the rows")
	f.BoolVar(&opts.key, "cache-key", false, "print the result cache key of the statement")
	return cmd
}

func (a *app) runQuery(ctx context.Context, w io.Writer, path string, opts queryOptions) error {
	doc, err := queryfile.Load(path)
	if err != nil {
		return err
	}
	c, err := doc.Criteria()
	if err != nil {
		return err
	}
	c.SetIdentifierQuoting(a.cfg.QuoteIdentifiers)
	adapter, err := a.cfg.adapter()
	if err != nil {
		return err
	}
	build := c.Build
	if opts.count {
		build = c.BuildCount
	}
	stmt, err := build(adapter)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, stmt.SQL)
	if args := stmt.Args(); len(args) > 0 {
		fmt.Fprintf(w, "-- args: %v\n", args)
	}
	if opts.key {
		key, err := stmt.CacheKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "-- cache key: %s\n", key)
	}
	if !opts.exec {
		return nil
	}
	drv, err := a.connect()
	if err != nil {
		return err
	}
	defer drv.Close()
	rows, err := sql.QueryStatement(ctx, drv, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()
	return printRows(w, rows)
}

// printRows writes rows as an aligned table followed by the row count.
func printRows(w io.Writer, rows *sql.Rows) error {
	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	cells := make([]string, len(columns))
	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		for i, v := range values {
			cells[i] = cell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%d rows)\n", n)
	return nil
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
