package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
	"github.com/roach88/recbind/internal/store/sqlite"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <collection> <json>",
		Short: "Create a record",
		Long: `Create a record through the collection's binder.

The record is stamped with deviceCts (server date-time format) unless it
already carries one, and gets a UUIDv7 id when it has none. Pass "-" to read
the record from stdin.

Exit codes:
  0 - Record created
  1 - Rejected by the store (schema violation, duplicate id)
  2 - Command error (bad JSON, config, database)

Examples:
  recbind create task '{"title":"write docs","status":"open"}'
  echo '{"id":"t-1","status":"open"}' | recbind create task -`,
		Args:          commandArgs(cobra.ExactArgs(2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(rootOpts, cmd, args[0], args[1])
		},
	}

	return cmd
}

func runCreate(opts *RootOptions, cmd *cobra.Command, collection, arg string) error {
	ctx := commandContext(cmd)

	params, err := readRecord(cmd, arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read record", err)
	}

	sess, err := openSession(ctx, opts, cmd, collection, false)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	formatter := newFormatter(opts, cmd)
	rec, err := sess.binder.Create(ctx, params)
	if err != nil {
		_ = formatter.Error(storeErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "create failed", err)
	}
	return formatter.Records([]ir.IRObject{rec})
}

// storeErrorCode maps a store failure to its JSON error code.
func storeErrorCode(err error) string {
	switch {
	case store.IsValidationError(err):
		return ErrCodeInput
	case errors.Is(err, sqlite.ErrDuplicateID), errors.Is(err, store.ErrNotFound):
		return ErrCodeStore
	default:
		return ErrCodeGeneric
	}
}
