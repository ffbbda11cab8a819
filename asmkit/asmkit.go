// Package asmkit decodes machine code read from a target process.
//
// It is used to show which instruction a corrupted code word or a
// modified program counter now refers to.
package asmkit

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GNUSyntax   DisassemblySyntax = "gnu"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

type DisassemblerConfig struct {
	Syntax     DisassemblySyntax
	ArchConfig interface{}
}

type X86Config struct {
	Bits int
}

type ARMConfig struct {
	Mode armasm.Mode
}

type ARM64Config struct{}

// MaxInstLen is the longest instruction any supported architecture
// can encode.
const MaxInstLen = 15

// NativeConfig returns a DisassemblerConfig for the architecture this
// program was built for, which is also the architecture of any process
// it can trace.
func NativeConfig() (DisassemblerConfig, error) {
	switch runtime.GOARCH {
	case "arm64":
		return DisassemblerConfig{Syntax: GNUSyntax, ArchConfig: ARM64Config{}}, nil
	case "amd64":
		return DisassemblerConfig{Syntax: IntelSyntax, ArchConfig: X86Config{Bits: 64}}, nil
	case "386":
		return DisassemblerConfig{Syntax: IntelSyntax, ArchConfig: X86Config{Bits: 32}}, nil
	case "arm":
		return DisassemblerConfig{Syntax: GNUSyntax, ArchConfig: ARMConfig{Mode: armasm.ModeARM}}, nil
	default:
		return DisassemblerConfig{}, fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch assertedConfig := config.ArchConfig.(type) {
	case ARM64Config:
		var disassemblyFn func(inst arm64asm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax, GNUSyntax:
			disassemblyFn = arm64asm.GNUSyntax
		case GoSyntax:
			disassemblyFn = func(inst arm64asm.Inst) string {
				return arm64asm.GoSyntax(inst, 0, nil, nil)
			}
		default:
			return nil, fmt.Errorf("unsupported syntax type for arm64: %q", config.Syntax)
		}

		return &Disassembler{
			arch: "arm64",
			disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
				arm64Inst, err := arm64asm.Decode(remainingInsts)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = strings.TrimSpace(disassemblyFn(arm64Inst))
				}

				// Every arm64 instruction is one 32-bit word.
				const instLen = 4

				return Inst{
					Bin:  copySlice(remainingInsts, instLen),
					Len:  instLen,
					Dis:  disassembly,
					Inst: arm64Inst,
				}, nil
			},
		}, nil
	case ARMConfig:
		var disassemblyFn func(inst armasm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax, GNUSyntax:
			disassemblyFn = armasm.GNUSyntax
		default:
			return nil, fmt.Errorf("unsupported syntax type for arm: %q", config.Syntax)
		}

		return &Disassembler{
			arch: "arm",
			disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
				armInst, err := armasm.Decode(remainingInsts, assertedConfig.Mode)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = strings.TrimSpace(disassemblyFn(armInst))
				}

				return Inst{
					Bin:  copySlice(remainingInsts, armInst.Len),
					Len:  armInst.Len,
					Dis:  disassembly,
					Inst: armInst,
				}, nil
			},
		}, nil
	case X86Config:
		var disassemblyFn func(inst x86asm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax, GNUSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GNUSyntax(inst, 0, nil)
			}
		case GoSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GoSyntax(inst, 0, nil)
			}
		case IntelSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.IntelSyntax(inst, 0, nil)
			}
		default:
			return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
		}

		return &Disassembler{
			arch: fmt.Sprintf("x86_%d", assertedConfig.Bits),
			disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
				x86Inst, err := x86asm.Decode(remainingInsts, assertedConfig.Bits)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = strings.TrimSpace(disassemblyFn(x86Inst))
				}

				return Inst{
					Bin:  copySlice(remainingInsts, x86Inst.Len),
					Len:  x86Inst.Len,
					Dis:  disassembly,
					Inst: x86Inst,
				}, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported config type: %T", assertedConfig)
	}
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

type Disassembler struct {
	arch            string
	disassOneInstFn func(remainingInsts []byte) (Inst, error)
}

// Arch names the architecture the Disassembler decodes.
func (o *Disassembler) Arch() string {
	return o.arch
}

// All decodes every instruction in rawInstructions, calling onDecodeFn
// for each one.
func (o *Disassembler) All(rawInstructions []byte, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.disassOneInstFn(rawInstructions[index:])
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
				index, err, rawInstructions[index:])
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at offset %d (%q) - %w",
				index, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Next decodes the first instruction in rawInstructions.
func (o *Disassembler) Next(rawInstructions []byte) (Inst, error) {
	if len(rawInstructions) == 0 {
		return Inst{}, fmt.Errorf("no instruction bytes to decode")
	}

	return o.disassOneInstFn(rawInstructions)
}

type Inst struct {
	Bin   []byte      `json:"bin"`
	Len   int         `json:"len"`
	Index int         `json:"index"`
	Dis   string      `json:"disassembly"`
	Inst  interface{} `json:"-"`
}

func (o Inst) String() string {
	return fmt.Sprintf("%x  %s", o.Bin, o.Dis)
}
