package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gitlab.com/faultkit/faultkit/asmkit"
	"gitlab.com/faultkit/faultkit/inject"
)

const (
	appName = "faultinject"

	memUsage = `Corrupt one word of a running process' memory.

The word is either picked blindly (a fixed offset into the first
matching region), found by scanning for an exact signature, or given
as an address with the manual region. The process is attached for
as short as possible and always detached before exiting.`

	memExamples = `  Flip bit 0 of the first heap word holding a canary:
    $ ` + appName + ` mem -p 1234 -r heap -s 0xdeadbeefcafebabe -t flip -b 0

  Let the process run for 500ms, then zero the low byte of a stack word:
    $ ` + appName + ` mem -p 1234 -r stack -t low0 --delay-us 500000

  Corrupt a known address:
    $ ` + appName + ` mem -p 1234 -r manual -a 0x7ffc0001fe00 -t set1 -b 63`

	regUsage = `Corrupt one register of a running process.

The register set is read, one register is modified and the whole
set is written back.`

	regExamples = `  Add 4 to the program counter after letting the process run for 500ms:
    $ ` + appName + ` reg 1234 PC add4 -w 500000

  Flip a random bit of X0:
    $ ` + appName + ` reg 1234 X0 flip`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	return newRootCommand().Execute()
}

type app struct {
	options     inject.Options
	requestFile string
	jsonOutput  bool
	noColor     bool
	verbose     bool

	// engine is copied for each run before the logger and the
	// disassembler are set.
	engine inject.Engine
}

func newRootCommand() *cobra.Command {
	return newApp().command()
}

func newApp() *app {
	return &app{options: inject.DefaultOptions()}
}

func (o *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Inject faults into the memory and registers of running processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.requestFile, "file", "f", "", "Read the request from a YAML `file` (flags override it)")
	flags.StringVarP(&o.options.Fault, "type", "t", o.options.Fault,
		"Fault `type`: flip, set0, set1, byte, add[1-5], flip2, zero2, set2, low0, low1")
	flags.IntVarP(&o.options.Bit, "bit", "b", o.options.Bit, "Target bit (0-63, -1 for random)")
	flags.Uint64VarP(&o.options.Addend, "addend", "n", o.options.Addend, "Addend for the add fault (1-5)")
	flags.Int64VarP(&o.options.DelayUS, "delay-us", "w", o.options.DelayUS,
		"Let the process run this many `microseconds` before corrupting it")
	flags.BoolVar(&o.options.Verify, "verify", o.options.Verify, "Read the value back after writing it")
	flags.BoolVar(&o.jsonOutput, "json", false, "Print the result as JSON")
	flags.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Log every step to stderr")

	mem := &cobra.Command{
		Use:     "mem",
		Short:   "Corrupt a word of memory",
		Long:    memUsage,
		Example: memExamples,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(options *inject.Options) error {
				if options.Register != "" {
					return errors.New("the request file targets a register - use the reg command")
				}
				return nil
			})
		},
	}

	mem.Flags().IntVarP(&o.options.PID, "pid", "p", 0, "Target process `id`")
	mem.Flags().StringVarP(&o.options.Region, "region", "r", "", "Region: heap, stack, code or manual (default heap)")
	mem.Flags().StringVarP(&o.options.Address, "address", "a", "", "Address of the word to corrupt (implies the manual region)")
	mem.Flags().StringVarP(&o.options.Signature, "signature", "s", "", "Scan the region for this exact 64-bit `value`")

	reg := &cobra.Command{
		Use:     "reg PID REGISTER [TYPE [BIT]]",
		Short:   "Corrupt a register",
		Long:    regUsage,
		Example: regExamples,
		Args:    cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(options *inject.Options) error {
				return applyRegisterArgs(options, args)
			})
		},
	}

	root.AddCommand(mem, reg)

	return root
}

// applyRegisterArgs applies the positional arguments of the reg command.
func applyRegisterArgs(o *inject.Options, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q - %w", args[0], err)
	}

	o.PID = pid
	o.Register = args[1]
	o.Region = ""

	if len(args) > 2 {
		o.Fault = args[2]
	}

	if len(args) > 3 {
		o.Bit, err = strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid bit %q - %w", args[3], err)
		}
	}

	return nil
}

func (o *app) run(cmd *cobra.Command, finalize func(*inject.Options) error) error {
	options, err := o.loadOptions(cmd)
	if err != nil {
		return err
	}

	err = finalize(&options)
	if err != nil {
		return err
	}

	req, err := options.Request()
	if err != nil {
		return err
	}

	engine := o.engine

	if o.verbose {
		engine.Logger = log.New(cmd.ErrOrStderr(), "["+appName+"] ", log.Lmicroseconds)
	}

	config, err := asmkit.NativeConfig()
	if err == nil {
		engine.Disassembler, err = asmkit.NewDisassembler(config)
		if err != nil {
			return fmt.Errorf("failed to create disassembler - %w", err)
		}
	}

	result, injectErr := engine.Inject(req)
	if result.Transitions == nil && injectErr != nil {
		// Nothing happened to the process.
		return injectErr
	}

	stdout := cmd.OutOrStdout()

	if o.jsonOutput {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		err = encoder.Encode(result)
		if err != nil {
			return fmt.Errorf("failed to encode result - %w", err)
		}
	} else {
		render(stdout, result, newStyles(!o.noColor && isTerminal(stdout)))
	}

	return injectErr
}

// loadOptions merges the request file, if any, with the flags that
// were explicitly set.
func (o *app) loadOptions(cmd *cobra.Command) (inject.Options, error) {
	if o.requestFile == "" {
		return o.options, nil
	}

	flags := cmd.Flags()

	changed := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	fileOptions, err := inject.LoadOptions(o.requestFile)
	if err != nil {
		return inject.Options{}, err
	}

	// The flags are bound to o.options.
	o.options = fileOptions
	for name, value := range changed {
		err = flags.Set(name, value)
		if err != nil {
			return inject.Options{}, fmt.Errorf("failed to apply flag %q - %w", name, err)
		}
	}

	return o.options, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
