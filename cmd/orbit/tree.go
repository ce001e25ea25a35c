package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
	"github.com/syssam/orbit/nestedset"
)

type treeOptions struct {
	def   nestedset.Definition
	scope int64
	label string
}

func newTreeCmd(a *app) *cobra.Command {
	var opts treeOptions
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Inspect nested-set trees",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.def.Table, "table", "", "table holding the tree")
	pf.StringVar(&opts.def.ID, "id-column", "id", "primary key column")
	pf.StringVar(&opts.def.Left, "left-column", "lft", "left boundary column")
	pf.StringVar(&opts.def.Right, "right-column", "rgt", "right boundary column")
	pf.StringVar(&opts.def.Level, "level-column", "lvl", "level column")
	pf.StringVar(&opts.def.Scope, "scope-column", "", "column partitioning the table into trees")
	pf.Int64Var(&opts.scope, "scope", 0, "tree to inspect when the table is scoped")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print a tree, one node per line",
		Example: `  orbit tree show --table category --label name --dialect sqlite --dsn shop.db`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTreeShow(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	show.Flags().StringVar(&opts.label, "label", "", "column printed next to each node")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the nested-set invariants of a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTreeVerify(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.AddCommand(show, verify)
	return cmd
}

func (a *app) openTree(opts treeOptions) (*nestedset.Tree, dialect.Driver, error) {
	drv, err := a.connect()
	if err != nil {
		return nil, nil, err
	}
	treeOpts := []nestedset.Option{nestedset.WithLogger(a.log)}
	if a.cfg.QuoteIdentifiers {
		treeOpts = append(treeOpts, nestedset.WithIdentifierQuoting())
	}
	tree, err := nestedset.New(drv, opts.def, treeOpts...)
	if err != nil {
		_ = drv.Close()
		return nil, nil, err
	}
	return tree, drv, nil
}

func (a *app) runTreeShow(ctx context.Context, w io.Writer, opts treeOptions) error {
	tree, drv, err := a.openTree(opts)
	if err != nil {
		return err
	}
	defer drv.Close()
	nodes, err := tree.All(ctx, opts.scope)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(w, "(empty tree)")
		return nil
	}
	var labels map[int64]string
	if opts.label != "" {
		if labels, err = a.labels(ctx, drv, tree.Definition(), opts.label, nodes); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%d [%d, %d]", strings.Repeat("  ", n.Level), n.ID, n.Left, n.Right)
		if l, ok := labels[n.ID]; ok {
			fmt.Fprint(w, " "+l)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// labels reads the label column of nodes.
func (a *app) labels(ctx context.Context, drv dialect.Driver, def nestedset.Definition, label string, nodes []*nestedset.Node) (map[int64]string, error) {
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	id := def.Table + "." + def.ID
	c := sql.NewCriteria("").
		AddSelectColumn(id, def.Table+"."+label).
		AddCriterion(sql.Column[int64](id).In(ids...)).
		SetIdentifierQuoting(a.cfg.QuoteIdentifiers)
	adapter, err := a.cfg.adapter()
	if err != nil {
		return nil, err
	}
	stmt, err := c.Build(adapter)
	if err != nil {
		return nil, err
	}
	rows, err := sql.QueryStatement(ctx, drv, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	labels := make(map[int64]string, len(nodes))
	for rows.Next() {
		var (
			id int64
			v  any
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		labels[id] = cell(v)
	}
	return labels, rows.Err()
}

func (a *app) runTreeVerify(ctx context.Context, w io.Writer, opts treeOptions) error {
	tree, drv, err := a.openTree(opts)
	if err != nil {
		return err
	}
	defer drv.Close()
	nodes, err := tree.All(ctx, opts.scope)
	if err != nil {
		return err
	}
	if err := nestedset.Check(nodes); err != nil {
		return err
	}
	fmt.Fprintf(w, "tree %s (scope %d) is valid: %d nodes\n", opts.def.Table, opts.scope, len(nodes))
	return nil
}
