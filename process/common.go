// Package process attaches to running processes and reads or modifies
// their memory and registers while they are stopped.
//
// A Session is an exclusive attachment to one process. It must be
// released with Detach on every path, including error paths, because
// an attached process stays stopped until it is detached.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, DefaultExitFn is invoked.
package process

import "log"

var (
	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)
