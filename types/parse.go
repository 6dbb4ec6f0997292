package types

import (
	"fmt"
	"strings"
	"unicode"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-bridge/errors"
)

// Resolver looks up named record, enum, error and object types.
type Resolver interface {
	Resolve(name string) (*Descriptor, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (*Descriptor, bool)

func (f ResolverFunc) Resolve(name string) (*Descriptor, bool) { return f(name) }

var aliases = map[string]string{
	"i8":  "s8",
	"i16": "s16",
	"i32": "s32",
	"i64": "s64",
}

// Parse parses a type expression without named types.
//
//	u32  string  bytes  duration  timestamp
//	option<T>  list<T>  map<K, V>
func Parse(expr string) (*Descriptor, error) {
	return ParseWith(expr, nil)
}

// ParseWith parses a type expression, resolving bare names through r.
func ParseWith(expr string, r Resolver) (*Descriptor, error) {
	p := &parser{src: expr, resolver: r}
	d, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.fail("unexpected %q", p.src[p.pos:])
	}
	return d, nil
}

type parser struct {
	resolver Resolver
	src      string
	pos      int
}

func (p *parser) fail(format string, args ...any) error {
	return errors.New(errors.PhaseParse, errors.KindInvalidData).
		Detail("type %q at offset %d: %s", p.src, p.pos, fmt.Sprintf(format, args...)).
		Build()
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == '-' || c == '.' || c == ':' || c == '/' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.fail("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) peek(c byte) bool {
	p.skipSpace()
	return p.pos < len(p.src) && p.src[p.pos] == c
}

func (p *parser) parseType() (*Descriptor, error) {
	name := p.ident()
	if name == "" {
		return nil, p.fail("expected type name")
	}

	if p.peek('<') {
		p.pos++
		var args []*Descriptor
		for {
			arg, err := p.parseType()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek(',') {
				p.pos++
				continue
			}
			break
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return p.generic(name, args)
	}

	return p.named(name)
}

func (p *parser) generic(name string, args []*Descriptor) (*Descriptor, error) {
	want := 1
	if name == "map" {
		want = 2
	}
	if len(args) != want {
		return nil, p.fail("%s takes %d type argument(s), got %d", name, want, len(args))
	}
	switch name {
	case "option":
		return Optional(args[0]), nil
	case "list", "sequence":
		return Sequence(args[0]), nil
	case "map":
		return Mapping(args[0], args[1]), nil
	}
	return nil, p.fail("unknown generic type %q", name)
}

func (p *parser) named(name string) (*Descriptor, error) {
	switch name {
	case "bytes":
		return Bytes(), nil
	case "duration":
		return Duration(), nil
	case "timestamp":
		return Timestamp(), nil
	}
	if a, ok := aliases[name]; ok {
		name = a
	}

	if wt, err := wit.ParseType(name); err == nil && wt != nil {
		d, err := FromWIT(wt)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	if p.resolver != nil {
		if d, ok := p.resolver.Resolve(name); ok {
			return d, nil
		}
	}
	return nil, p.fail("unknown type %q", name)
}

// SplitTopLevel splits s on sep outside of <> and () nesting.
func SplitTopLevel(s string, sep rune) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch {
		case ch == '<' || ch == '(':
			depth++
			current.WriteRune(ch)
		case ch == '>' || ch == ')':
			depth--
			current.WriteRune(ch)
		case ch == sep && depth == 0:
			if str := strings.TrimSpace(current.String()); str != "" {
				result = append(result, str)
			}
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}
