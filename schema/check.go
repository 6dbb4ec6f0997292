package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/types"
)

// ConsistencyError lists every problem found by Check.
type ConsistencyError struct {
	Namespace string
	Problems  []string
}

func (e *ConsistencyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d consistency problem(s):", e.Namespace, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// Unwrap classifies the error for errors.Is checks by phase and kind.
func (e *ConsistencyError) Unwrap() error {
	return errors.New(errors.PhaseSchema, errors.KindInvalidInput).
		Detail("%d consistency problem(s)", len(e.Problems)).
		Build()
}

type typeKind uint8

const (
	kindRecord typeKind = iota
	kindEnum
	kindError
	kindObject
	kindCallback
)

var typeKindNames = [...]string{"record", "enum", "error", "object", "callback interface"}

type checker struct {
	doc      *Document
	named    map[string]typeKind
	deps     map[string][]string // record/enum -> records/enums it embeds
	problems []string
}

func (c *checker) addf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// Check verifies that names and ids are unique, every type reference
// resolves, declared errors name error enums and no record or enum
// contains itself.
func (d *Document) Check() error {
	c := &checker{
		doc:   d,
		named: make(map[string]typeKind),
		deps:  make(map[string][]string),
	}
	c.collectNames()
	c.checkTypes()
	c.checkFunctions()
	c.checkCycles()

	if len(c.problems) == 0 {
		return nil
	}
	return &ConsistencyError{Namespace: d.Namespace, Problems: c.problems}
}

func (c *checker) declare(name string, k typeKind) {
	if prev, ok := c.named[name]; ok {
		c.addf("type %q declared as both %s and %s", name, typeKindNames[prev], typeKindNames[k])
		return
	}
	if _, err := types.Parse(name); err == nil {
		c.addf("type %q shadows a builtin type", name)
	}
	c.named[name] = k
}

func (c *checker) collectNames() {
	for _, r := range c.doc.Records {
		c.declare(r.Name, kindRecord)
	}
	for _, e := range c.doc.Enums {
		c.declare(e.Name, kindEnum)
	}
	for _, e := range c.doc.Errors {
		c.declare(e.Name, kindError)
	}
	for _, o := range c.doc.Objects {
		c.declare(o.Name, kindObject)
	}
	for _, ci := range c.doc.CallbackInterfaces {
		c.declare(ci.Name, kindCallback)
	}
}

// placeholders resolves named types to shallow descriptors so type
// expressions can be parsed before the types themselves are built.
func (c *checker) placeholders() types.Resolver {
	return types.ResolverFunc(func(name string) (*types.Descriptor, bool) {
		k, ok := c.named[name]
		if !ok {
			return nil, false
		}
		switch k {
		case kindRecord:
			return &types.Descriptor{Kind: types.KindRecord, Name: name}, true
		case kindEnum, kindError:
			return &types.Descriptor{Kind: types.KindEnum, Name: name, Error: k == kindError}, true
		}
		return types.Object(name), true
	})
}

func (c *checker) candidates() []string {
	names := make([]string, 0, len(c.named))
	for n := range c.named {
		names = append(names, n)
	}
	return names
}

// parse parses expr and returns the record and enum names it embeds.
func (c *checker) parse(where, expr string) (*types.Descriptor, []string, bool) {
	d, err := types.ParseWith(expr, c.placeholders())
	if err != nil {
		hint := ""
		for _, part := range strings.FieldsFunc(expr, func(r rune) bool {
			return r == '<' || r == '>' || r == ',' || r == ' '
		}) {
			if s := dispatch.Closest(part, c.candidates()); s != "" && s != part {
				hint = fmt.Sprintf(" (did you mean %q?)", s)
				break
			}
		}
		c.addf("%s: unknown type in %q%s", where, expr, hint)
		return nil, nil, false
	}
	var embedded []string
	walk(d, func(n *types.Descriptor) {
		if n.Kind == types.KindRecord || n.Kind == types.KindEnum {
			embedded = append(embedded, n.Name)
		}
	})
	return d, embedded, true
}

func walk(d *types.Descriptor, fn func(*types.Descriptor)) {
	if d == nil {
		return
	}
	fn(d)
	switch d.Kind {
	case types.KindOptional, types.KindSequence:
		walk(d.Elem, fn)
	case types.KindMapping:
		walk(d.Key, fn)
		walk(d.Value, fn)
	}
}

func (c *checker) checkFields(owner string, fields []Field) []string {
	var deps []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			c.addf("%s: duplicate field %q", owner, f.Name)
		}
		seen[f.Name] = true
		if _, embedded, ok := c.parse(owner+"."+f.Name, f.Type); ok {
			deps = append(deps, embedded...)
		}
	}
	return deps
}

func (c *checker) checkEnum(e Enum) {
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if seen[v.Name] {
			c.addf("enum %s: duplicate variant %q", e.Name, v.Name)
		}
		seen[v.Name] = true
		c.deps[e.Name] = append(c.deps[e.Name], c.checkFields(e.Name+"."+v.Name, v.Fields)...)
	}
}

func (c *checker) checkTypes() {
	for _, r := range c.doc.Records {
		c.deps[r.Name] = append(c.deps[r.Name], c.checkFields("record "+r.Name, r.Fields)...)
	}
	for _, e := range c.doc.Enums {
		c.checkEnum(e)
	}
	for _, e := range c.doc.Errors {
		c.checkEnum(e)
	}
}

func (c *checker) checkSignature(where string, params []Field, returns, throws string) {
	c.checkFields(where, params)
	if returns != "" {
		c.parse(where+" returns", returns)
	}
	if throws != "" {
		if k, ok := c.named[throws]; !ok || k != kindError {
			c.addf("%s: throws %q, which is not a declared error", where, throws)
		}
	}
}

func (c *checker) checkFunctions() {
	ids := make(map[uint32]string)
	names := make(map[string]bool)
	claim := func(fn Function, qualified string) {
		if prev, ok := ids[fn.ID]; ok {
			c.addf("function %s: id %d already used by %s", qualified, fn.ID, prev)
		} else {
			ids[fn.ID] = qualified
		}
		if names[qualified] {
			c.addf("function %s declared twice", qualified)
		}
		names[qualified] = true
	}

	for _, fn := range c.doc.Functions {
		claim(fn, fn.Name)
		c.checkSignature("function "+fn.Name, fn.Params, fn.Returns, fn.Throws)
	}
	for _, o := range c.doc.Objects {
		for _, fn := range o.Constructors {
			q := o.Name + "." + fn.Name
			claim(fn, q)
			c.checkSignature("constructor "+q, fn.Params, fn.Returns, fn.Throws)
			if fn.Returns != "" && fn.Returns != o.Name {
				c.addf("constructor %s must return %s", q, o.Name)
			}
		}
		for _, fn := range o.Methods {
			q := o.Name + "." + fn.Name
			claim(fn, q)
			c.checkSignature("method "+q, fn.Params, fn.Returns, fn.Throws)
			for _, p := range fn.Params {
				if p.Name == "self" {
					c.addf("method %s: parameter name self is reserved", q)
				}
			}
		}
	}
	for _, ci := range c.doc.CallbackInterfaces {
		seen := make(map[string]bool)
		for _, m := range ci.Methods {
			q := ci.Name + "." + m.Name
			if seen[m.Name] {
				c.addf("callback %s declared twice", q)
			}
			seen[m.Name] = true
			c.checkSignature("callback "+q, m.Params, m.Returns, m.Throws)
		}
	}
}

// checkCycles rejects records and enums that embed themselves, directly or
// through other records and enums.
func (c *checker) checkCycles() {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int)
	reported := make(map[string]bool)

	var visit func(name string, stack []string)
	visit = func(name string, stack []string) {
		switch state[name] {
		case done:
			return
		case active:
			start := 0
			for i, s := range stack {
				if s == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), name)
			if !reported[name] {
				for _, s := range cycle {
					reported[s] = true
				}
				c.addf("recursive type: %s", strings.Join(cycle, " -> "))
			}
			return
		}
		state[name] = active
		for _, dep := range c.deps[name] {
			visit(dep, append(stack, name))
		}
		state[name] = done
	}

	names := make([]string, 0, len(c.deps))
	for n := range c.deps {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		visit(n, nil)
	}
}
