package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/recbind/internal/binder"
	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store/sqlite"
)

// changeSource is the part of the SQLite adapter the feed reads.
type changeSource interface {
	LastSeq(ctx context.Context) (int64, error)
	Changes(ctx context.Context, collection string, since int64) ([]sqlite.Change, error)
}

// changeFeed pushes rows written by other processes into a binder: live rows
// through SafeInject, tombstones through Remove.
type changeFeed struct {
	source     changeSource
	binder     *binder.Binder
	collection string
	logger     *slog.Logger

	since int64
}

func newChangeFeed(source changeSource, b *binder.Binder, logger *slog.Logger) *changeFeed {
	return &changeFeed{
		source:     source,
		binder:     b,
		collection: b.Name(),
		logger:     logger,
	}
}

// Mark skips every change up to the current end of the log. Call it before
// the initial fetch so nothing written after the fetch is missed.
func (f *changeFeed) Mark(ctx context.Context) error {
	seq, err := f.source.LastSeq(ctx)
	if err != nil {
		return err
	}
	f.since = seq
	return nil
}

// Poll applies every change since the last poll and returns how many there
// were.
func (f *changeFeed) Poll(ctx context.Context) (int, error) {
	changes, err := f.source.Changes(ctx, f.collection, f.since)
	if err != nil {
		return 0, err
	}

	idAttr := f.binder.Mapper().IDAttribute()
	for _, ch := range changes {
		if ch.Deleted {
			f.binder.Remove(ir.O(idAttr, ir.IRString(ch.ID)))
		} else {
			f.binder.SafeInject(ch.Record)
		}
		f.since = ch.Seq
	}
	if len(changes) > 0 {
		f.logger.Debug("change feed applied", "collection", f.collection, "count", len(changes), "seq", f.since)
	}
	return len(changes), nil
}

// Run polls every interval until ctx is done. Poll errors are logged and
// retried on the next tick.
func (f *changeFeed) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.Poll(ctx); err != nil && ctx.Err() == nil {
				f.logger.Warn("change feed poll failed", "collection", f.collection, "error", err)
			}
		}
	}
}
