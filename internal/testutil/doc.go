// Package testutil provides deterministic stand-ins for time, scheduling and
// id generation so binder and store tests never depend on wall time or
// goroutine interleaving.
package testutil
