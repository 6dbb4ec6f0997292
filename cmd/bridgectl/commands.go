package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/runtime"
	"github.com/wippyai/ffi-bridge/schema"
	"github.com/wippyai/ffi-bridge/transcoder"
	"github.com/wippyai/ffi-bridge/types"
)

func newFlags(env *cliEnv, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.Usage = func() {
		fmt.Fprintf(env.stderr, "Usage: bridgectl %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func (env *cliEnv) loadInterface(path string) (*schema.Interface, error) {
	if path == "" {
		path = env.cfg.Schema.Path
	}
	if path == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "no interface: pass -schema or set schema.path")
	}
	env.log.Debug("loading interface", zap.String("path", path))
	return runtime.LoadInterface(path)
}

func (env *cliEnv) codecOptions() []transcoder.Option {
	return []transcoder.Option{transcoder.WithLimits(env.cfg.Codec.Limits())}
}

func runInspect(env *cliEnv, args []string) error {
	fs := newFlags(env, "inspect", "inspect [-schema file]")
	path := fs.String("schema", "", "Interface description (JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	iface, err := env.loadInterface(*path)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.stdout, "namespace: %s\n", iface.Namespace())
	fmt.Fprintf(env.stdout, "version:   %s\n", iface.Version())
	fmt.Fprintf(env.stdout, "checksum:  %#016x\n\n", iface.Checksum())

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHECKSUM\tSIGNATURE")
	for _, def := range iface.Functions() {
		fmt.Fprintf(tw, "%d\t%#04x\t%s\n", def.ID, def.Checksum, formatDef(&def))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if cbs := iface.CallbackInterfaces(); len(cbs) > 0 {
		fmt.Fprintln(env.stdout, "\ncallback interfaces:")
		for _, cb := range cbs {
			for i, m := range cb.Methods {
				fmt.Fprintf(env.stdout, "  %s[%d] %s\n", cb.Name, i, formatSignature(m.Name, m.Params, m.Returns, m.Throws, false))
			}
		}
	}
	return nil
}

func formatDef(def *dispatch.FuncDef) string {
	return formatSignature(def.Name, def.Params, def.Returns, def.Throws, def.Async)
}

func formatSignature(name string, params []types.Field, returns, throws *types.Descriptor, async bool) string {
	var b strings.Builder
	if async {
		b.WriteString("async ")
	}
	b.WriteString(name)
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name + ": " + p.Type.String())
		if p.Default != nil {
			b.WriteString(" = " + formatLiteral(p.Default.Value))
		}
	}
	b.WriteByte(')')
	if returns != nil {
		b.WriteString(" -> " + returns.String())
	}
	if throws != nil {
		b.WriteString(" throws " + throws.Name)
	}
	return b.String()
}

func formatLiteral(v any) string {
	data, err := json.Marshal(toJSON(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func findFunction(iface *schema.Interface, name string) (dispatch.FuncDef, error) {
	if def, ok := iface.Function(name); ok {
		return def, nil
	}
	names := make([]string, 0, len(iface.Functions()))
	for _, def := range iface.Functions() {
		names = append(names, def.Name)
	}
	err := errors.New(errors.PhaseDispatch, errors.KindNotFound)
	if hint := dispatch.Closest(name, names); hint != "" {
		return dispatch.FuncDef{}, err.Detail("function %q not found (did you mean %q?)", name, hint).Build()
	}
	return dispatch.FuncDef{}, err.Detail("function %q not found", name).Build()
}

// encodeArgs lowers JSON arguments for def and returns the wire bytes.
// Trailing arguments with declared defaults may be omitted.
func encodeArgs(env *cliEnv, def dispatch.FuncDef, args []string) ([]byte, error) {
	arityErr := errors.InvalidInput(errors.PhaseEncode,
		fmt.Sprintf("%s takes %d arguments, got %d", def.Name, len(def.Params), len(args)))
	if len(args) > len(def.Params) {
		return nil, arityErr
	}
	values := make([]any, len(args))
	for i, raw := range args {
		v, err := parseValue(raw, def.Params[i].Type)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "argument "+def.Params[i].Name)
		}
		values[i] = v
	}
	if values = types.FillDefaults(values, def.Params); len(values) != len(def.Params) {
		return nil, arityErr
	}
	enc := transcoder.NewEncoder(nil, env.codecOptions()...)
	buf := buffer.Get()
	defer buf.Release()
	if err := enc.LowerAll(buf, values, def.ParamTypes()); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func runEncode(env *cliEnv, args []string) error {
	fs := newFlags(env, "encode", "encode [-schema file] -func name ARG_JSON...")
	path := fs.String("schema", "", "Interface description (JSON)")
	name := fs.String("func", "", "Function whose parameters to encode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	iface, err := env.loadInterface(*path)
	if err != nil {
		return err
	}
	def, err := findFunction(iface, *name)
	if err != nil {
		return err
	}
	wire, err := encodeArgs(env, def, fs.Args())
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, hex.EncodeToString(wire))
	return nil
}

func runDecode(env *cliEnv, args []string) error {
	fs := newFlags(env, "decode", "decode [-schema file] -func name [-args] [-error] HEX")
	path := fs.String("schema", "", "Interface description (JSON)")
	name := fs.String("func", "", "Function the bytes belong to")
	asArgs := fs.Bool("args", false, "Bytes are the argument list rather than the return value")
	asError := fs.Bool("error", false, "Bytes are the declared error value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.InvalidInput(errors.PhaseDecode, "expected one hex argument")
	}
	iface, err := env.loadInterface(*path)
	if err != nil {
		return err
	}
	def, err := findFunction(iface, *name)
	if err != nil {
		return err
	}
	wire, err := hex.DecodeString(strings.TrimSpace(fs.Arg(0)))
	if err != nil {
		return errors.ParseFailed("hex input", err)
	}

	out, err := decodeWire(env, def, wire, *asArgs, *asError)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func decodeWire(env *cliEnv, def dispatch.FuncDef, wire []byte, asArgs, asError bool) (any, error) {
	dec := transcoder.NewDecoder(nil, env.codecOptions()...)
	buf := buffer.Wrap(wire)

	var lifted any
	switch {
	case asArgs:
		values, err := dec.LiftAll(buf, def.ParamTypes())
		if err != nil {
			return nil, err
		}
		named := make(map[string]any, len(values))
		for i, v := range values {
			named[def.Params[i].Name] = toJSON(v)
		}
		return named, nil
	case asError:
		if def.Throws == nil {
			return nil, errors.InvalidInput(errors.PhaseDecode, def.Name+" declares no error")
		}
		v, err := dec.Lift(buf, def.Throws)
		if err != nil {
			return nil, err
		}
		lifted = v
	default:
		if def.Returns == nil {
			return nil, errors.InvalidInput(errors.PhaseDecode, def.Name+" returns nothing")
		}
		v, err := dec.Lift(buf, def.Returns)
		if err != nil {
			return nil, err
		}
		lifted = v
	}
	if buf.Len() != 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("%d trailing bytes", buf.Len()).
			Build()
	}
	return toJSON(lifted), nil
}

func runCheck(env *cliEnv, args []string) error {
	fs := newFlags(env, "check", "check -schema file -against file")
	path := fs.String("schema", "", "Interface the native side implements")
	against := fs.String("against", "", "Interface the foreign glue was generated from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *against == "" {
		fs.Usage()
		return errors.InvalidInput(errors.PhaseSchema, "-against is required")
	}
	native, err := env.loadInterface(*path)
	if err != nil {
		return err
	}
	glue, err := runtime.LoadInterface(*against)
	if err != nil {
		return err
	}
	if err := schema.CheckCompatible(native, glue); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "compatible: %s %s (checksum %#016x)\n", native.Namespace(), glue.Version(), glue.Checksum())
	return nil
}

func runImportWIT(env *cliEnv, args []string) error {
	fs := newFlags(env, "import-wit", "import-wit -namespace ns -version v [-first-id n] FILE.wit")
	ns := fs.String("namespace", "", "Namespace of the generated document")
	version := fs.String("version", "0.1.0", "Version of the generated document")
	firstID := fs.Uint("first-id", 1, "Id of the first imported function")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.InvalidInput(errors.PhaseParse, "expected one WIT file")
	}
	text, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return errors.ParseFailed("wit file", err)
	}
	doc := &schema.Document{Namespace: *ns, Version: *version}
	if _, err := doc.ImportWIT(string(text), uint32(*firstID)); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := doc.Check(); err != nil {
		return err
	}
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.stdout, string(data))
	return err
}

func runJSONSchema(env *cliEnv, args []string) error {
	fs := newFlags(env, "jsonschema", "jsonschema")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := schema.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.stdout, string(data))
	return err
}
