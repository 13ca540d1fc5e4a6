package cli

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/roach88/recbind/internal/store"
	"github.com/roach88/recbind/internal/tui"
)

// watchProperty is the ListView property the watch binding assigns.
const watchProperty = "records"

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	QueryOptions
	Once    bool
	Poll    time.Duration
	Columns []string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Show a live query in the terminal",
		Long: `Bind a terminal list to a query and keep it current.

The matching records are fetched once, then the database change log is polled
every --poll interval. Records written by other processes are pushed into the
view; deleted records drop out of it.

With --once the current result is printed and the command exits.

Examples:
  recbind watch task --where status=open
  recbind watch task --expr 'priority > 2' --columns id,title,priority
  recbind watch task --where status=open --once --format json`,
		Args:          commandArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd, args[0])
		},
	}

	addQueryFlags(cmd, &opts.QueryOptions)
	cmd.Flags().BoolVar(&opts.Once, "once", false, "print the current result and exit")
	cmd.Flags().DurationVar(&opts.Poll, "poll", time.Second, "change feed poll interval")
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "fields to display, in order (default: all)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command, collection string) error {
	ctx := commandContext(cmd)

	q, err := opts.Query()
	if err == nil {
		_, err = store.CompileQuery(q)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query", err)
	}
	if opts.Poll <= 0 {
		return NewExitError(ExitCommandError, "--poll must be positive")
	}

	if opts.Once {
		return watchOnce(ctx, opts, cmd, collection, q)
	}
	return watchLive(ctx, opts, cmd, collection, q)
}

func watchOnce(ctx context.Context, opts *WatchOptions, cmd *cobra.Command, collection string, q store.Query) error {
	sess, err := openSession(ctx, opts.RootOptions, cmd, collection, false)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	formatter := newFormatter(opts.RootOptions, cmd)
	if _, err := sess.binder.FindAll(ctx, q, store.FindAllOptions{}); err != nil {
		_ = formatter.Error(storeErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "fetch failed", err)
	}
	rs, err := sess.binder.Filter(q)
	if err != nil {
		return WrapExitError(ExitFailure, "filter failed", err)
	}
	return formatter.Records(rs.Records())
}

func watchLive(ctx context.Context, opts *WatchOptions, cmd *cobra.Command, collection string, q store.Query) error {
	sess, err := openSession(ctx, opts.RootOptions, cmd, collection, true)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = sess.loop.Run(ctx)
	}()
	defer func() { <-loopDone }()

	// Mark before fetching: a write landing between the two is applied twice,
	// never missed.
	feed := newChangeFeed(sess.adapter, sess.binder, sess.logger)
	if err := feed.Mark(ctx); err != nil {
		cancel()
		return WrapExitError(ExitFailure, "failed to read change log", err)
	}
	if _, err := sess.binder.FindAll(ctx, q, store.FindAllOptions{}); err != nil {
		cancel()
		return WrapExitError(ExitFailure, "fetch failed", err)
	}

	view := tui.NewListView(watchProperty,
		tui.WithTitle(collection),
		tui.WithColumns(opts.Columns...))
	program := tea.NewProgram(view,
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()))
	view.Attach(program)

	if _, err := sess.binder.BindAll(view, q, watchProperty, nil); err != nil {
		cancel()
		return WrapExitError(ExitCommandError, "invalid query", err)
	}
	defer sess.binder.UnbindAll(view)

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		feed.Run(ctx, opts.Poll)
	}()

	sess.logger.Debug("watch started", "collection", collection, "query", q.String(), "poll", opts.Poll)
	_, err = program.Run()
	cancel()
	<-feedDone

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return WrapExitError(ExitFailure, "view failed", err)
	}
	return nil
}
