// Package fuzztests houses Go fuzz harnesses that exercise the front of
// the compilation pipeline (binary module -> decode -> translate). Its
// goal is to smoke test robustness and guard against panics or
// allocator explosions on arbitrary inputs.
package fuzztests
