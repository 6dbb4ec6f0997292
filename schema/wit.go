package schema

import (
	"regexp"
	"strings"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/types"
)

var witFuncPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*(async\s+)?func\s*\(([^)]*)\)(?:\s*->\s*([^;\n]+))?`)

// ImportWIT extracts function signatures from WIT text and appends them to
// the document as free functions, numbered from firstID. WIT kebab-case
// names become snake_case; "result<T, E>" returns become T with E as the
// declared error when E names an error enum of the document.
func (d *Document) ImportWIT(witText string, firstID uint32) ([]Function, error) {
	matches := witFuncPattern.FindAllStringSubmatch(witText, -1)
	if len(matches) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}

	declaredErrors := make(map[string]bool, len(d.Errors))
	for _, e := range d.Errors {
		declaredErrors[e.Name] = true
	}

	var out []Function
	id := firstID
	for _, m := range matches {
		fn := Function{
			Name:  witName(m[1]),
			ID:    id,
			Async: m[2] != "",
		}
		id++

		if params := strings.TrimSpace(m[3]); params != "" {
			for _, p := range types.SplitTopLevel(params, ',') {
				name, typ, ok := strings.Cut(p, ":")
				if !ok {
					return nil, errors.ParseFailed("WIT parameter "+p, nil)
				}
				fn.Params = append(fn.Params, Field{Name: witName(strings.TrimSpace(name)), Type: witType(typ)})
			}
		}

		if result := strings.TrimSpace(m[4]); result != "" && result != "()" {
			fn.Returns, fn.Throws = splitResult(witType(result), declaredErrors)
		}
		out = append(out, fn)
	}

	d.Functions = append(d.Functions, out...)
	return out, nil
}

func witName(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

func witType(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return witName(strings.TrimSpace(s))
}

// splitResult maps result<T, E> onto a return type and a declared error.
func splitResult(expr string, declaredErrors map[string]bool) (returns, throws string) {
	if !strings.HasPrefix(expr, "result<") || !strings.HasSuffix(expr, ">") {
		return expr, ""
	}
	args := types.SplitTopLevel(expr[len("result<"):len(expr)-1], ',')
	if len(args) != 2 || !declaredErrors[args[1]] {
		return expr, ""
	}
	ok := args[0]
	if ok == "_" {
		ok = ""
	}
	return ok, args[1]
}
