package procmaps

import (
	"errors"
	"os"
	"strings"
	"testing"
)

const sampleMaps = `7ffd4b1c4000-7ffd4b1e5000 rw-p 00000000 00:00 0                          [stack]
55d0c5a4c000-55d0c5a4e000 r--p 00000000 fd:01 1835101                    /usr/bin/cat
55d0c5a4e000-55d0c5a53000 r-xp 00002000 fd:01 1835101                    /usr/bin/cat
55d0c5a53000-55d0c5a55000 r--p 00007000 fd:01 1835101                    /usr/bin/cat
55d0c5a56000-55d0c5a57000 rw-p 00009000 fd:01 1835101                    /usr/bin/cat
55d0c6c2e000-55d0c6c4f000 rw-p 00000000 00:00 0                          [heap]
7f1e2c000000-7f1e2c021000 rw-p 00000000 00:00 0
7f1e2c400000-7f1e2c401000 rw-p 00000000 00:00 0                          [anon:scudo:primary]
7f1e2c600000-7f1e2c601000 rw-s 00000000 00:05 42                         /dev/shm/with space (deleted)
7ffd4b1f8000-7ffd4b1fa000 r-xp 00000000 00:00 0                          [vdso]
`

func TestParse(t *testing.T) {
	regions, err := Parse(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}

	if len(regions) != 10 {
		t.Fatalf("expected 10 regions - got %d", len(regions))
	}

	for i := 1; i < len(regions); i++ {
		if regions[i-1].Start >= regions[i].Start {
			t.Fatalf("regions are not sorted at index %d: 0x%x >= 0x%x",
				i, regions[i-1].Start, regions[i].Start)
		}
	}

	first := regions[0]
	if first.Start != 0x55d0c5a4c000 || first.End != 0x55d0c5a4e000 {
		t.Fatalf("unexpected first region: %s", first)
	}

	if first.Class != FileBacked {
		t.Fatalf("expected %s - got %s", FileBacked, first.Class)
	}

	last := regions[len(regions)-1]
	if last.Class != Pseudo || last.Path != "[vdso]" {
		t.Fatalf("expected [vdso] pseudo region last - got %s", last)
	}
}

func TestParse_Classes(t *testing.T) {
	regions, err := Parse(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}

	exp := map[uint64]Class{
		0x55d0c5a4e000: Code,
		0x55d0c5a56000: FileBacked,
		0x55d0c6c2e000: Heap,
		0x7f1e2c000000: Anonymous,
		0x7f1e2c400000: Anonymous,
		0x7f1e2c600000: FileBacked,
		0x7ffd4b1c4000: Stack,
	}

	for start, class := range exp {
		region, ok := Find(regions, start)
		if !ok {
			t.Fatalf("failed to find region at 0x%x", start)
		}

		if region.Class != class {
			t.Fatalf("expected region at 0x%x to be %s - got %s", start, class, region.Class)
		}
	}
}

func TestParseLine_PathWithSpaces(t *testing.T) {
	region, err := ParseLine("7f1e2c600000-7f1e2c601000 rw-s 00000000 00:05 42   /dev/shm/with space (deleted)")
	if err != nil {
		t.Fatal(err)
	}

	if region.Path != "/dev/shm/with space (deleted)" {
		t.Fatalf("unexpected path: %q", region.Path)
	}

	if !region.Perms.Shared || !region.Perms.Write || region.Perms.Execute {
		t.Fatalf("unexpected perms: %s", region.Perms)
	}

	if region.Inode != 42 {
		t.Fatalf("expected inode 42 - got %d", region.Inode)
	}
}

func TestParseLine_Malformed(t *testing.T) {
	lines := []string{
		"zzzz-0000 rw-p 00000000 00:00 0",
		"1000 rw-p 00000000 00:00 0",
		"1000-2000 rw 00000000 00:00 0",
		"2000-1000 rw-p 00000000 00:00 0",
		"1000-2000 rw-p",
	}

	for _, line := range lines {
		_, err := ParseLine(line)
		if err == nil {
			t.Fatalf("expected an error for %q", line)
		}
	}
}

func TestRegion_Contains(t *testing.T) {
	r := Region{Start: 0x1000, End: 0x2000}

	if !r.Contains(0x1000) || !r.Contains(0x1fff) {
		t.Fatal("expected region to contain its bounds")
	}

	if r.Contains(0x2000) || r.Contains(0xfff) {
		t.Fatal("end must be exclusive")
	}

	if r.Size() != 0x1000 {
		t.Fatalf("expected size 0x1000 - got 0x%x", r.Size())
	}
}

func TestRead_Self(t *testing.T) {
	if _, err := os.Stat(Path(os.Getpid())); err != nil {
		t.Skipf("no procfs - %s", err)
	}

	regions, err := Read(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}

	if len(regions) == 0 {
		t.Fatal("expected at least one region")
	}

	var hasStack bool
	for _, r := range regions {
		if r.Class == Stack {
			hasStack = true
		}
	}

	if !hasStack {
		t.Fatal("expected the test process to have a stack region")
	}
}

func TestRead_GoneProcess(t *testing.T) {
	if _, err := os.Stat("/proc/self/maps"); err != nil {
		t.Skipf("no procfs - %s", err)
	}

	// PID_MAX_LIMIT is 2^22 so this pid cannot exist.
	_, err := Read(1 << 23)
	if !errors.Is(err, ErrProcessGone) {
		t.Fatalf("expected ErrProcessGone - got %v", err)
	}
}
