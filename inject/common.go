// Package inject runs fault injections against live processes.
//
// An Engine attaches to the target, locates a word of its memory or
// one of its registers, optionally lets it run for a while, corrupts
// the value according to a fault.Spec and detaches. The target is
// detached on every path, including failures after a partial
// operation.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, DefaultExitFn is invoked.
package inject

import "log"

var (
	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)
