//go:build !linux

package procmaps

import "errors"

// Read is only supported on Linux.
func Read(pid int) ([]Region, error) {
	return nil, errors.New("process memory maps can only be read on linux")
}
