package binder

import (
	"context"
	"sort"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/loop"
)

// pendingSave is the descriptor of a debounced save. At most one exists per
// record id; its identity is what a firing timer checks to know it is still
// current.
type pendingSave struct {
	timer loop.Timer
	rec   ir.IRObject
}

// SafeSave persists rec after the save delay unless another SafeSave for the
// same id supersedes it first, in which case only the later record state is
// written. With immediate set, any pending save for the id is canceled and
// rec is persisted before SafeSave returns.
//
// Failures, including cancellation, are logged as safeSave:ignore and never
// returned. The delayed write runs with ctx's values but ignores its
// cancellation, since the caller has usually moved on by then.
func (b *Binder) SafeSave(ctx context.Context, rec ir.IRObject, immediate bool) {
	id, ok := b.mapper.ID(rec)
	if !ok {
		b.logger.Warn("safeSave:ignore", "error", ErrMissingID.Error())
		return
	}
	rec = rec.Clone()

	if immediate {
		b.mu.Lock()
		prev := b.saving[id]
		delete(b.saving, id)
		b.mu.Unlock()

		b.cancelSave(id, prev)
		b.persist(ctx, id, rec)
		return
	}

	ctx = context.WithoutCancel(ctx)
	p := &pendingSave{rec: rec}

	b.mu.Lock()
	prev := b.saving[id]
	b.saving[id] = p
	p.timer = b.sched.AfterFunc(b.saveDelay, func() { b.fireSave(ctx, id, p, rec) })
	b.mu.Unlock()

	b.cancelSave(id, prev)
}

// Close writes every pending debounced save now, in id order, and clears the
// descriptors. It does not need the scheduler, so it may run after the loop
// has stopped. SafeSave calls after Close behave normally.
func (b *Binder) Close(ctx context.Context) {
	b.mu.Lock()
	pending := b.saving
	b.saving = make(map[string]*pendingSave)
	b.mu.Unlock()

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := pending[id]
		// A callback already posted finds its descriptor gone and skips.
		p.timer.Stop()
		b.logger.Debug("safeSave:flush", "id", id)
		b.persist(ctx, id, p.rec)
	}
}

// Saving reports whether a debounced save for id is pending.
func (b *Binder) Saving(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.saving[id]
	return ok
}

// SafeInject writes rec into the cache unless a save for its id is pending.
// It is installed as the collection's store.Inject hook.
func (b *Binder) SafeInject(rec ir.IRObject) {
	id, ok := b.mapper.ID(rec)
	if ok && b.Saving(id) {
		b.logger.Debug("safeInject:ignore", "id", id)
		return
	}
	if err := b.store.AddToCache(b.name, rec); err != nil {
		b.logger.Warn("safeInject:error", "error", err.Error())
	}
}

func (b *Binder) fireSave(ctx context.Context, id string, p *pendingSave, rec ir.IRObject) {
	b.mu.Lock()
	current := b.saving[id] == p
	if current {
		delete(b.saving, id)
	}
	b.mu.Unlock()

	if !current {
		// Superseded after the timer fired but before this callback ran.
		b.logger.Debug("safeSave:ignore", "id", id, "error", ErrSaveCanceled.Error())
		return
	}
	b.persist(ctx, id, rec)
}

func (b *Binder) cancelSave(id string, p *pendingSave) {
	if p == nil {
		return
	}
	p.timer.Stop()
	b.logger.Debug("safeSave:ignore", "id", id, "error", ErrSaveCanceled.Error())
}

func (b *Binder) persist(ctx context.Context, id string, rec ir.IRObject) {
	ctx, span := b.startSpan(ctx, "binder.save")
	_, err := b.store.Save(ctx, b.name, rec)
	endSpan(span, err)
	if err != nil {
		b.logger.Warn("safeSave:ignore", "id", id, "error", err.Error())
		return
	}
	b.logger.Debug("safeSave:success", "id", id)
}
