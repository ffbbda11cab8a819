// Package faultkit injects runtime faults into live Linux processes.
//
// A fault is one corrupted word: either a word of process memory or a
// general purpose register. The target is attached with ptrace, optionally
// allowed to run for a while, corrupted and detached again.
//
// APIs are separated into subpackages, and documented accordingly:
//
//   - fault models the corruptions (bit flips, stuck-at bits, byte and
//     arithmetic faults)
//   - procmaps parses /proc/<pid>/maps
//   - process attaches to, stops, reads and writes a traced process
//   - memory picks the word to corrupt
//   - inject runs a complete injection
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package faultkit
