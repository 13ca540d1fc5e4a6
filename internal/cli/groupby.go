package cli

import (
	"github.com/spf13/cobra"
)

// GroupByOptions holds flags for the groupby command.
type GroupByOptions struct {
	*RootOptions
	QueryOptions
}

// NewGroupByCommand creates the groupby command.
func NewGroupByCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GroupByOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "groupby <collection> <field>...",
		Short: "Count records per distinct field combination",
		Long: `Count the matching records per distinct combination of the given fields.

Each output row holds the grouped fields plus "count". Rows are read from the
database on every call and never cached.

Examples:
  recbind groupby task status
  recbind groupby task status owner --where archived=false
  recbind groupby task status --expr 'priority > 2' --format json`,
		Args:          commandArgs(cobra.MinimumNArgs(2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupBy(opts, cmd, args[0], args[1:])
		},
	}

	addQueryFlags(cmd, &opts.QueryOptions)

	return cmd
}

func runGroupBy(opts *GroupByOptions, cmd *cobra.Command, collection string, fields []string) error {
	ctx := commandContext(cmd)

	q, err := opts.Query()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query", err)
	}

	sess, err := openSession(ctx, opts.RootOptions, cmd, collection, false)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	formatter := newFormatter(opts.RootOptions, cmd)
	rows, err := sess.binder.GroupBy(ctx, q, fields)
	if err != nil {
		_ = formatter.Error(storeErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "groupby failed", err)
	}
	return formatter.Records(rows)
}
