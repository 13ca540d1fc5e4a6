// Package store provides the observable client-side record store.
//
// The store keeps an in-memory cache per collection in front of an Adapter
// (the remote side) and announces every cache mutation on a typed
// per-collection event Channel:
//   - Mappers: one per collection; id attribute, CUE schema, record methods
//     and the optional SafeInject hook
//   - Cache: records keyed by id; Filter answers queries from it synchronously
//   - Events: Added, Removed and GroupBy, delivered synchronously to listeners
//     in subscription order
//
// # Critical Patterns
//
// Cache writes never hold the store lock while listeners run, so a listener
// may call back into the store (Filter, Get) without deadlocking.
//
// Completed queries are remembered by their ir.QueryKey; an unforced FindAll
// for a completed query is answered from the cache. Concurrent identical
// FindAll calls with UsePendingFindAll share one adapter round trip.
//
// The push path (Inject) routes data through the mapper's SafeInject hook when
// one is registered, letting the binder veto writes that would clobber a
// pending local save.
package store
