// Package watcher reports filesystem changes under a project directory.
//
// Delivery is best-effort: bursts on one path are coalesced and events may be
// lost if the kernel queue overflows. Callers should treat events as hints to
// refresh rather than rely on exact ordering across paths.
package watcher
