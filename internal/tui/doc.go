// Package tui renders bound records in the terminal.
//
// ListView is a bubbletea model that doubles as a binder component: the
// binder assigns its property on every re-evaluation and ForceUpdate posts a
// RefreshMsg to the running program, so the next frame shows the new records.
package tui
