//go:build linux

package procmaps

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/prometheus/procfs"
)

// Read parses the memory map of the specified process.
//
// procfs splits each line on whitespace, so a pathname containing a
// run of spaces comes back with single spaces.
func Read(pid int) ([]Region, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid %d - %w", pid, checkGone(err))
	}

	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("failed to read maps of pid %d - %w", pid, checkGone(err))
	}

	regions := make([]Region, 0, len(maps))
	for _, m := range maps {
		regions = append(regions, fromProcMap(m))
	}

	sortRegions(regions)

	return regions, nil
}

func fromProcMap(m *procfs.ProcMap) Region {
	region := Region{
		Start:  uint64(m.StartAddr),
		End:    uint64(m.EndAddr),
		Offset: uint64(m.Offset),
		Inode:  m.Inode,
		Path:   m.Pathname,
	}

	if m.Perms != nil {
		region.Perms = Perms{
			Read:    m.Perms.Read,
			Write:   m.Perms.Write,
			Execute: m.Perms.Execute,
			Shared:  m.Perms.Shared,
		}
	}

	region.Class = classify(region)

	return region
}

func checkGone(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("%w (%w)", ErrProcessGone, err)
	}
	return err
}
