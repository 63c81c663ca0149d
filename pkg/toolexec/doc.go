// Package toolexec runs the tool calls a model requests during a turn.
//
// Calls form a closed set of kinds (read_file, write_file, list_dir, skill)
// that share one Invoke contract. Local serves the file kinds from an
// afero.Fs confined to a workspace root; skills are reported unsupported.
//
// Invariants:
// - Paths never resolve outside the workspace root.
// - Invoke never panics or returns a Go error; failures are Results with IsError set.
//
// Usage:
//
//	exec := toolexec.NewLocal(afero.NewOsFs(), root)
//	call, err := toolexec.ParseCall(id, name, input)
//	result := exec.Invoke(ctx, call)
package toolexec
