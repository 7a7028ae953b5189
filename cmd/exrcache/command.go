package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/exrcache/exrcache/internal/config"
	cerrors "github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/utils"
)

// Command is one exrcache subcommand.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage follows "exrcache" in help, command name first.
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is shown in command help. Short is used when empty.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, env *env, args []string) error
}

// env is what every command runs with.
type env struct {
	cfg    *config.Configuration
	logger *utils.StructuredLogger
	out    io.Writer
	errOut io.Writer
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "exrcache <cmd> --help".
func (c *Command) PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: exrcache", c.Usage)
	fmt.Fprintln(w)

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}
	fmt.Fprintln(w, desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		fmt.Fprint(w, buf.String())
	}
}

// Run parses flags and executes the command. Returns exit code.
func (c *Command) Run(ctx context.Context, e *env, args []string) int {
	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(e.out)
			return 0
		}
		fmt.Fprintln(e.errOut, "error:", err)
		fmt.Fprintln(e.errOut)
		c.PrintHelp(e.errOut)
		return 1
	}

	if err := c.exec(ctx, e, c.Flags.Args()); err != nil {
		e.report(err)
		return 1
	}

	return 0
}

// exec runs Exec, turning a panic into an INTERNAL_ERROR carrying the
// panicking stack.
func (c *Command) exec(ctx context.Context, e *env, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.Newf(cerrors.ErrCodeInternalError, "%v", r).
				WithComponent(c.Name()).
				WithStack()
		}
	}()
	return c.Exec(ctx, e, args)
}

// report prints a failed command's error. User-facing errors lead with
// their short message and keep the full error on the next line.
func (e *env) report(err error) {
	var ce *cerrors.CacheError
	if !errors.As(err, &ce) {
		fmt.Fprintln(e.errOut, "error:", err)
		return
	}

	if msg := ce.UserFacingMessage(); msg != "" {
		fmt.Fprintln(e.errOut, "error:", msg)
		fmt.Fprintln(e.errOut, "  "+err.Error())
	} else {
		fmt.Fprintln(e.errOut, "error:", err)
	}

	fields := map[string]interface{}{"code": string(ce.Code), "error": ce.JSON()}
	if ce.Stack != "" {
		e.logger.Error("command failed", fields)
		return
	}
	e.logger.Debug("command failed", fields)
}

func commands() []*Command {
	return []*Command{
		inspectCmd(),
		readCmd(),
		synthCmd(),
		watchCmd(),
		configCmd(),
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var g globalFlags

	fs := flag.NewFlagSet("exrcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&g.logFormat, "log-format", "", "log format (text or json)")
	fs.StringVar(&g.logFile, "log-file", "", "log to this file instead of stderr")

	if err := fs.Parse(args); err != nil {
		return g, nil, err
	}
	return g, fs.Args(), nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: exrcache [global flags] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintln(w, c.HelpLine())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fmt.Fprintln(w, "  -c, --config <file>     YAML configuration file")
	fmt.Fprintln(w, "      --log-level <lvl>   log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	fmt.Fprintln(w, "      --log-format <fmt>  log format (text or json)")
	fmt.Fprintln(w, "      --log-file <file>   log to this file instead of stderr")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Settings are also read from EXRCACHE_* environment variables.")
}

// run is the entry point. Returns exit code.
func run(ctx context.Context, out, errOut io.Writer, args []string) int {
	g, rest, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut)
		return 1
	}
	if len(rest) == 0 || rest[0] == "-h" || rest[0] == "--help" || rest[0] == "help" {
		printUsage(out)
		return 0
	}

	var cmd *Command
	for _, c := range commands() {
		if c.Name() == rest[0] {
			cmd = c
			break
		}
	}
	if cmd == nil {
		fmt.Fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut)
		return 1
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	if g.logLevel != "" {
		cfg.Global.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Global.LogFormat = g.logFormat
	}
	if g.logFile != "" {
		cfg.Global.LogFile = g.logFile
	}

	logger, closer, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer func() { _ = closer.Close() }()

	return cmd.Run(ctx, &env{cfg: cfg, logger: logger, out: out, errOut: errOut}, rest[1:])
}
