package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// InjectOptions holds flags for the inject command.
type InjectOptions struct {
	*RootOptions
	Save bool
}

// NewInjectCommand creates the inject command.
func NewInjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inject <collection> <json>",
		Short: "Push a record into the collection cache",
		Long: `Push a record into the collection cache the way a server push would.

The record goes through the binder's safe-inject guard, so it is dropped
while a save for the same id is pending. The cached record is printed.

With --save the record also replaces the stored row immediately, which makes
it visible to every process watching the collection. The row must exist;
use create for new records.

Examples:
  recbind inject task '{"id":"t-1","status":"done"}'
  recbind inject task '{"id":"t-1","status":"done"}' --save`,
		Args:          commandArgs(cobra.ExactArgs(2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInject(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "also persist the record immediately")

	return cmd
}

func runInject(opts *InjectOptions, cmd *cobra.Command, collection, arg string) error {
	ctx := commandContext(cmd)

	rec, err := readRecord(cmd, arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read record", err)
	}

	sess, err := openSession(ctx, opts.RootOptions, cmd, collection, false)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	id, ok := sess.binder.Mapper().ID(rec)
	if !ok {
		return WrapExitError(ExitCommandError, "failed to read record",
			fmt.Errorf("%w: %q", store.ErrMissingID, sess.binder.Mapper().IDAttribute()))
	}

	if err := sess.store.Inject(collection, rec); err != nil {
		return WrapExitError(ExitFailure, "inject failed", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if !opts.Save {
		cached, ok := sess.binder.Get(id)
		if !ok {
			return NewExitError(ExitFailure, fmt.Sprintf("record %q was not cached", id))
		}
		return formatter.Records([]ir.IRObject{cached})
	}

	// SafeSave logs failures instead of returning them, so read the row back
	// to learn whether it landed.
	sess.binder.SafeSave(ctx, rec, true)
	saved, err := sess.binder.Find(ctx, id, store.FindOptions{Force: true})
	if err != nil || !ir.Equal(saved, rec) {
		if err == nil {
			err = fmt.Errorf("stored record differs from the injected one")
		}
		_ = formatter.Error(storeErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "save failed", err)
	}
	return formatter.Records([]ir.IRObject{saved})
}
