package main

import (
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gitlab.com/faultkit/faultkit/inject"
)

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	muted lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
	flip  lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}

	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("#20B9B4")),
		value: lipgloss.NewStyle().Bold(true),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C8A94")),
		good:  lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")),
		flip:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F4D03F")),
	}
}

// render writes a human readable trace of result.
func render(w io.Writer, result inject.Result, s styles) {
	line := func(label string, value string) {
		fmt.Fprintf(w, "  %s %s\n", s.label.Render(fmt.Sprintf("%-10s", label)), value)
	}

	fmt.Fprintln(w, s.title.Render("fault injection "+result.ID))

	line("pid", s.value.Render(strconv.Itoa(result.PID)))

	if result.Register != "" || result.Region != nil || result.Address != 0 {
		line("target", s.value.Render(result.Location()))
	}

	line("fault", result.Fault.Describe())

	// The fault is resolved right before the value is written.
	if result.Fault.Resolved() {
		line("original", binaryWord(uint64(result.Original), 0, s))
		line("corrupted", binaryWord(uint64(result.Corrupted), uint64(result.Original^result.Corrupted), s))
		line("changed", changedBits(uint64(result.Original^result.Corrupted)))
	}

	if result.ReadBack != nil {
		line("read back", result.ReadBack.String())
	}

	if result.Instruction != nil {
		inst := result.Instruction.After
		if result.Instruction.Before != "" {
			inst = result.Instruction.Before + " -> " + inst
		}
		line("instr", fmt.Sprintf("%s @ %s", inst, result.Instruction.Address))
	}

	var states []string
	for i, t := range result.Transitions {
		if i == 0 {
			states = append(states, t.From.String())
		}
		states = append(states, t.To.String())
	}
	line("states", s.muted.Render(strings.Join(states, " > ")+" ("+result.Elapsed.String()+")"))

	switch result.Outcome {
	case inject.OutcomeFailed:
		line("outcome", s.bad.Render("failed: "+result.Error))
	default:
		line("outcome", s.good.Render(string(result.Outcome)))
	}
}

// binaryWord renders w as hex followed by its bits, highlighting the
// bits set in changed.
func binaryWord(w uint64, changed uint64, s styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "0x%016x ", w)

	for i := 63; i >= 0; i-- {
		bit := "0"
		if w&(1<<uint(i)) != 0 {
			bit = "1"
		}

		if changed&(1<<uint(i)) != 0 {
			bit = s.flip.Render(bit)
		}

		b.WriteString(bit)
		if i > 0 && i%8 == 0 {
			b.WriteByte(' ')
		}
	}

	return b.String()
}

func changedBits(diff uint64) string {
	if diff == 0 {
		return "none"
	}

	var positions []string
	for diff != 0 {
		i := bits.TrailingZeros64(diff)
		positions = append(positions, strconv.Itoa(i))
		diff &^= 1 << uint(i)
	}

	return fmt.Sprintf("%d bit(s): %s", len(positions), strings.Join(positions, ", "))
}
