// Package snapshot persists session metadata and conversation transcripts.
//
// Layout under the store directory:
//
//	<id>.json   snapshot (metadata, first message, worktree handle)
//	<id>.jsonl  transcript, one turn per line
//
// Invariants:
// - A snapshot file is never observable half-written: Save writes <id>.json.tmp,
//   syncs it and renames it over <id>.json.
// - LoadAll skips files that fail to parse or validate and reports them as
//   corruption; it never aborts on a single bad file.
// - Completed snapshots stay on disk but are excluded from Restorable.
//
// Usage:
//
//	store, _ := snapshot.NewStore(afero.NewOsFs(), dir)
//	_ = store.Save(snapshot.FromSession(sess))
//	snaps, _ := store.Restorable()
package snapshot
