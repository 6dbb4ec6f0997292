package schema

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	"golang.org/x/mod/semver"

	"github.com/wippyai/ffi-bridge/errors"
)

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// CheckCompatible reports whether native code built against expected can
// serve foreign glue generated from actual. Namespaces and semver majors
// must match, and so must the checksums.
func CheckCompatible(expected, actual *Interface) error {
	if expected.Namespace() != actual.Namespace() {
		return errors.Incompatible("namespace %q does not match %q", actual.Namespace(), expected.Namespace())
	}

	ev, av := canonicalVersion(expected.Version()), canonicalVersion(actual.Version())
	if !semver.IsValid(ev) || !semver.IsValid(av) {
		return errors.Incompatible("invalid version %q or %q", expected.Version(), actual.Version())
	}
	if semver.Major(ev) != semver.Major(av) {
		return errors.Incompatible("%s: major version %s does not match %s",
			expected.Namespace(), semver.Major(av), semver.Major(ev))
	}

	if expected.Checksum() != actual.Checksum() {
		detail := ""
		if diff := diffFunctions(expected, actual); diff != "" {
			detail = ": " + diff
		}
		return errors.Incompatible("%s: checksum %#x does not match %#x%s",
			expected.Namespace(), actual.Checksum(), expected.Checksum(), detail)
	}
	return nil
}

// diffFunctions names the first function whose checksum differs.
func diffFunctions(expected, actual *Interface) string {
	got := make(map[uint32]uint16, len(actual.functions))
	for _, f := range actual.functions {
		got[f.ID] = f.Checksum
	}
	for _, f := range expected.functions {
		c, ok := got[f.ID]
		switch {
		case !ok:
			return "function " + f.Name + " is missing"
		case c != f.Checksum:
			return "function " + f.Name + " changed"
		}
	}
	if len(actual.functions) != len(expected.functions) {
		return "functions were added"
	}
	return ""
}

// JSONSchema returns the JSON Schema of interface description documents.
func JSONSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := reflector.Reflect(&Document{})
	s.Title = "ffi-bridge interface description"
	return json.MarshalIndent(s, "", "  ")
}
