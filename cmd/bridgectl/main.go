package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/dispatch"
)

type command struct {
	name    string
	summary string
	run     func(env *cliEnv, args []string) error
}

// cliEnv carries what every command needs.
type cliEnv struct {
	cfg    config.Config
	log    *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

var commands = []command{
	{"inspect", "Show an interface: checksums, ids and signatures", runInspect},
	{"encode", "Lower JSON arguments to wire bytes (hex)", runEncode},
	{"decode", "Lift wire bytes of a result or argument list to JSON", runDecode},
	{"check", "Check that glue built from one interface can call the other", runCheck},
	{"import-wit", "Turn WIT function signatures into an interface document", runImportWIT},
	{"jsonschema", "Print the JSON Schema of interface documents", runJSONSchema},
	{"interactive", "Browse an interface and encode calls in a TUI", runInteractive},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bridgectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "Path to a config file")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Log.Format = "console"
	log, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	name := fs.Arg(0)
	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(stderr, "Unknown command %q", name)
		if hint := dispatch.Closest(name, commandNames()); hint != "" {
			fmt.Fprintf(stderr, " (did you mean %q?)", hint)
		}
		fmt.Fprintln(stderr)
		return 2
	}

	env := &cliEnv{cfg: cfg, log: log, stdout: stdout, stderr: stderr}
	if err := cmd.run(env, fs.Args()[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func commandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.name
	}
	sort.Strings(names)
	return names
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bridgectl [-config file] [-v] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The interface defaults to schema.path from the config (FFIBRIDGE_SCHEMA_PATH).")
}
