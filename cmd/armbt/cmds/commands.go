package cmds

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-delve/armbt/cmd/armbt/cmds/helphelpers"
	"github.com/go-delve/armbt/pkg/config"
	"github.com/go-delve/armbt/pkg/ehabi"
	"github.com/go-delve/armbt/pkg/elfwriter"
	"github.com/go-delve/armbt/pkg/image"
	"github.com/go-delve/armbt/pkg/logflags"
	"github.com/go-delve/armbt/pkg/memdump"
	"github.com/go-delve/armbt/pkg/report"
	"github.com/go-delve/armbt/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath overrides the default configuration file.
	configPath string
	// elfPath is the image the unwind tables and symbols are read from.
	elfPath string
	// color enables colored output.
	color bool

	// backtrace flags
	dumps       []string
	regs        registers
	depth       int
	stackSize   hexValue
	disassemble bool

	// index flags
	funcPrefix string

	// strip flags
	stripOutput string
	keepText    bool

	conf *config.Config
)

const armbtCommandLongDesc = `armbt reconstructs the call stack of 32-bit ARM firmware from the
.ARM.exidx and .ARM.extab unwind tables emitted by the linker, without frame
pointers or debug information.

The register state of the stopped program and a dump of the RAM holding its
stack are given on the command line, for example:

` + "`armbt backtrace --elf barebox --dump ram.bin@0x80000000 --pc 0x8001234c --sp 0x87fffe80 --lr 0x80012100`"

// registers holds the register values a backtrace starts from.
type registers struct {
	pc, sp, lr, fp hexValue
}

// hexValue is a pflag.Value holding a 32 bit hexadecimal number.
type hexValue uint32

func (v *hexValue) String() string {
	return fmt.Sprintf("%#x", uint32(*v))
}

func (v *hexValue) Set(s string) error {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid hexadecimal value %q", s)
	}
	*v = hexValue(n)
	return nil
}

func (v *hexValue) Type() string {
	return "hex"
}

// New returns an initialized command tree.
func New() *cobra.Command {
	regs = registers{}
	stackSize = 0
	dumps = nil

	// Main armbt root command.
	rootCommand := &cobra.Command{
		Use:           "armbt",
		Short:         "armbt is a table driven backtracer for ARM firmware.",
		Long:          armbtCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			if configPath == "" {
				conf = config.LoadConfig()
				return nil
			}
			var err error
			conf, err = config.LoadConfigFrom(configPath)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'armbt help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'armbt help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, instead of the default one.")
	rootCommand.PersistentFlags().StringVarP(&elfPath, "elf", "e", "", "ELF image holding the unwind tables.")
	rootCommand.PersistentFlags().BoolVar(&color, "color", true, "Color the output when writing to a terminal.")

	// 'backtrace' subcommand.
	backtraceCommand := &cobra.Command{
		Use:   "backtrace",
		Short: "Print the call stack of a stopped program.",
		Long: `Print the call stack of a stopped program.

Frames are unwound with the tables of the ELF image until an address outside
of its text section is reached, the maximum depth is reached or an unwind
table can not be executed. Stack words are read from the memory dumps given
with --dump, in the form file@address, and from the image itself.`,
		Args: cobra.NoArgs,
		RunE: backtraceCmd,
	}
	backtraceCommand.Flags().StringArrayVarP(&dumps, "dump", "d", nil, "RAM dump in the form file@address, can be repeated.")
	backtraceCommand.Flags().Var(&regs.pc, "pc", "Program counter of the innermost frame.")
	backtraceCommand.Flags().Var(&regs.sp, "sp", "Stack pointer of the innermost frame.")
	backtraceCommand.Flags().Var(&regs.lr, "lr", "Link register of the innermost frame.")
	backtraceCommand.Flags().Var(&regs.fp, "fp", "Frame pointer (r11) of the innermost frame.")
	backtraceCommand.Flags().IntVar(&depth, "depth", 0, "Maximum number of frames, overrides max-depth in the configuration file.")
	backtraceCommand.Flags().Var(&stackSize, "stack-size", "Size of the stack of the target, overrides stack-size in the configuration file.")
	backtraceCommand.Flags().BoolVar(&disassemble, "disasm", false, "Print the call instruction of every frame.")
	rootCommand.AddCommand(backtraceCommand)

	// 'index' subcommand.
	indexCommand := &cobra.Command{
		Use:   "index",
		Short: "Dump the unwind index of an image.",
		Long: `Dump the unwind index of an image.

Every entry of .ARM.exidx is printed with the function it covers and its
decoded unwind instructions.`,
		Args: cobra.NoArgs,
		RunE: indexCmd,
	}
	indexCommand.Flags().StringVar(&funcPrefix, "func", "", "Only print the entries of functions starting with this prefix.")
	rootCommand.AddCommand(indexCommand)

	// 'lookup' subcommand.
	lookupCommand := &cobra.Command{
		Use:   "lookup address...",
		Short: "Print the unwind index entry covering an address.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  lookupCmd,
	}
	rootCommand.AddCommand(lookupCommand)

	// 'strip' subcommand.
	stripCommand := &cobra.Command{
		Use:   "strip",
		Short: "Write an ELF file holding only what backtrace needs.",
		Long: `Write an ELF file holding only what backtrace needs.

The output contains the unwind tables, the bounds of the text section and
the function symbols of the image, so that backtraces of a firmware can be
decoded without shipping the whole image.`,
		Args: cobra.NoArgs,
		RunE: stripCmd,
	}
	stripCommand.Flags().StringVarP(&stripOutput, "output", "o", "", "Output file.")
	stripCommand.Flags().BoolVar(&keepText, "keep-text", false, "Keep the contents of the text section, needed by --disasm.")
	rootCommand.AddCommand(stripCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "armbt\n%s\n", version.ArmbtVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	unwind	Log every state transition of the frame walker
	index	Log the unwind index as it is loaded
	image	Log ELF image loading
	cli	Log command line processing

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	return rootCommand
}

func openImage() (*image.Image, error) {
	if elfPath == "" {
		return nil, errors.New("you must provide an ELF image with --elf")
	}
	img, err := image.Open(elfPath, conf.GetSymbolCacheSize())
	if err != nil {
		return nil, err
	}
	if logflags.CLI() {
		logflags.CLILogger().Debugf("loaded %s", img)
	}
	return img, nil
}

func backtraceCmd(cmd *cobra.Command, args []string) error {
	for _, name := range []string{"pc", "sp"} {
		if !cmd.Flags().Changed(name) {
			return fmt.Errorf("you must provide the --%s register", name)
		}
	}
	if depth < 0 {
		return errors.New("--depth must not be negative")
	}

	img, err := openImage()
	if err != nil {
		return err
	}
	defer img.Close()

	var mem memdump.Composite
	for _, spec := range dumps {
		path, base, err := memdump.ParseSpec(spec)
		if err != nil {
			return err
		}
		d, err := memdump.Open(path, base)
		if err != nil {
			return err
		}
		defer d.Close()
		if logflags.CLI() {
			logflags.CLILogger().Debugf("dump %s at [%#x, %#x)", d.Path, d.Addr, d.End())
		}
		mem = append(mem, d)
	}
	mem = append(mem, img)

	ss := conf.GetStackSize()
	if cmd.Flags().Changed("stack-size") {
		ss = uint32(stackSize)
	}
	u, err := img.Unwinder(mem, ss)
	if err != nil {
		return err
	}

	maxDepth := depth
	if !cmd.Flags().Changed("depth") {
		maxDepth = conf.GetMaxDepth()
	}
	useColor := conf.GetColor()
	if cmd.Flags().Changed("color") {
		useColor = color
	}
	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok && f == os.Stdout {
		out, useColor = report.Stdout(useColor)
	} else {
		useColor = false
	}

	p := report.NewPrinter(out, img, report.Config{
		Color:       useColor,
		Disassemble: disassemble || conf.Disassemble,
	})
	frame := ehabi.Frame{
		PC: uint32(regs.pc),
		SP: uint32(regs.sp),
		LR: uint32(regs.lr),
		FP: uint32(regs.fp),
	}
	if logflags.CLI() {
		logflags.CLILogger().Debugf("backtrace from %s, depth %d, stack size %#x", frame, maxDepth, ss)
	}
	n, err := u.Backtrace(frame, maxDepth, p)
	return p.Done(n, err)
}

func indexCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage()
	if err != nil {
		return err
	}
	defer img.Close()
	out := cmd.OutOrStdout()
	idx := img.Tables.Index

	if funcPrefix == "" {
		fmt.Fprintf(out, "Unwind index at %#08x contains %d entries:\n\n", idx.Addr(), idx.Len())
		for _, e := range idx.Entries() {
			printEntry(out, img, e)
		}
		return nil
	}

	fns := img.FuncsWithPrefix(funcPrefix)
	if len(fns) == 0 {
		return fmt.Errorf("no function matching %q", funcPrefix)
	}
	for _, fn := range fns {
		e, err := idx.Lookup(fn.Entry)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n\n", fn.Name, err)
			continue
		}
		printEntry(out, img, e)
	}
	return nil
}

func printEntry(out io.Writer, img *image.Image, e ehabi.Entry) {
	fmt.Fprintf(out, "%s <%s>\n", e, img.Symbol(e.FuncAddr()))
	ops, err := img.Tables.Ops(e)
	switch {
	case errors.Is(err, ehabi.ErrCannotUnwind):
	case err != nil:
		if len(ops) > 0 {
			fmt.Fprintf(out, "  %s\n", ehabi.Disassemble(ops))
		}
		fmt.Fprintf(out, "  <%v>\n", err)
	default:
		fmt.Fprintf(out, "  %s\n", ehabi.Disassemble(ops))
	}
	fmt.Fprintln(out)
}

func lookupCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage()
	if err != nil {
		return err
	}
	defer img.Close()
	out := cmd.OutOrStdout()

	for _, arg := range args {
		var addr hexValue
		if err := addr.Set(arg); err != nil {
			return err
		}
		pc := uint32(addr)
		fmt.Fprintf(out, "%#08x <%s>\n", pc, img.Symbol(pc))
		if !img.Text.Contains(pc) {
			fmt.Fprintf(out, "  %v %s\n\n", ehabi.ErrNotInMonitoredRegion, img.Text)
			continue
		}
		e, err := img.Tables.Index.Lookup(pc)
		if err != nil {
			fmt.Fprintf(out, "  %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "  entry at %#08x: ", e.Addr)
		printEntry(out, img, e)
	}
	return nil
}

func stripCmd(cmd *cobra.Command, args []string) error {
	if stripOutput == "" {
		return errors.New("you must provide an output file with --output")
	}
	img, err := openImage()
	if err != nil {
		return err
	}
	defer img.Close()

	ef, err := strippedImage(img, keepText)
	if err != nil {
		return err
	}
	fh, err := os.Create(stripOutput)
	if err != nil {
		return err
	}
	if _, err := ef.WriteTo(fh); err != nil {
		fh.Close()
		return fmt.Errorf("could not write %s: %w", stripOutput, err)
	}
	return fh.Close()
}

// strippedImage describes an ELF file holding the unwind tables, text
// bounds and function symbols of img.
func strippedImage(img *image.Image, keepText bool) (*elfwriter.File, error) {
	data := elf.ELFDATA2LSB
	if img.Order.Uint16([]byte{0, 1}) == 1 {
		data = elf.ELFDATA2MSB
	}
	ef := &elfwriter.File{
		Header: elf.FileHeader{
			Class:   elf.ELFCLASS32,
			Data:    data,
			Type:    elf.ET_EXEC,
			Machine: elf.EM_ARM,
			Entry:   uint64(img.Entry),
		},
	}

	text := elfwriter.Section{
		Name:  ".text",
		Type:  elf.SHT_NOBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  img.Text.Start,
		Align: 4,
		Size:  img.Text.End - img.Text.Start,
	}
	if keepText {
		text.Type = elf.SHT_PROGBITS
		text.Data = make([]byte, text.Size)
		if _, err := img.ReadMemory(text.Data, uint64(text.Addr)); err != nil {
			return nil, fmt.Errorf("could not read text: %w", err)
		}
	}
	idx := img.Tables.Index.Section()
	ef.Sections = append(ef.Sections, text, elfwriter.Section{
		Name:  ".ARM.exidx",
		Type:  image.SHT_ARM_EXIDX,
		Flags: elf.SHF_ALLOC | elf.SHF_LINK_ORDER,
		Addr:  idx.Addr,
		Align: 4,
		Link:  ".text",
		Data:  idx.Data,
	})
	if extab := img.Tables.Extab; extab.Size() > 0 {
		ef.Sections = append(ef.Sections, elfwriter.Section{
			Name:  ".ARM.extab",
			Type:  elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC,
			Addr:  extab.Addr,
			Align: 4,
			Data:  extab.Data,
		})
	}

	ef.Symbols = append(ef.Symbols,
		elfwriter.Symbol{Name: "_stext", Value: img.Text.Start, Bind: elf.STB_GLOBAL, Section: ".text"},
		elfwriter.Symbol{Name: "_etext", Value: img.Text.End, Bind: elf.STB_GLOBAL, Section: ".text"})
	for _, fn := range img.Functions {
		sym := elfwriter.Symbol{
			Name:    fn.Name,
			Value:   fn.Entry,
			Size:    fn.End - fn.Entry,
			Type:    elf.STT_FUNC,
			Bind:    elf.STB_GLOBAL,
			Section: ".text",
		}
		if fn.Thumb {
			sym.Value |= 1
		}
		ef.Symbols = append(ef.Symbols, sym)
	}
	return ef, nil
}
