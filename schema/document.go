package schema

import (
	"bytes"
	"encoding/json"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/wippyai/ffi-bridge/errors"
)

// Document is a component interface description as produced by an IDL
// front end.
type Document struct {
	Namespace          string              `json:"namespace" validate:"required,ident" jsonschema:"description=Interface namespace in lower snake_case"`
	Version            string              `json:"version" validate:"required,semver" jsonschema:"description=Semantic version of the interface,example=1.2.0"`
	Records            []Record            `json:"records,omitempty" validate:"dive"`
	Enums              []Enum              `json:"enums,omitempty" validate:"dive"`
	Errors             []Enum              `json:"errors,omitempty" validate:"dive" jsonschema:"description=Enums usable as declared function errors"`
	Objects            []Object            `json:"objects,omitempty" validate:"dive"`
	Functions          []Function          `json:"functions,omitempty" validate:"dive"`
	CallbackInterfaces []CallbackInterface `json:"callback_interfaces,omitempty" validate:"dive"`
}

// Field is a named, typed record field, variant field or parameter.
type Field struct {
	Name    string          `json:"name" validate:"required,ident"`
	Type    string          `json:"type" validate:"required" jsonschema:"description=Type expression such as u32 or list<option<string>>"`
	Default json.RawMessage `json:"default,omitempty" jsonschema:"description=Literal used when the value is omitted: bool; number; string or 0x/0o integer; enum variant name; [] or {} for empty list or map; null for an absent optional"`
}

type Record struct {
	Name   string  `json:"name" validate:"required,ident"`
	Fields []Field `json:"fields" validate:"dive"`
}

type Variant struct {
	Name   string  `json:"name" validate:"required,ident"`
	Fields []Field `json:"fields,omitempty" validate:"dive"`
}

type Enum struct {
	Name     string    `json:"name" validate:"required,ident"`
	Variants []Variant `json:"variants" validate:"required,min=1,dive"`
}

// Function is a free function, object constructor or object method.
type Function struct {
	Name    string  `json:"name" validate:"required,ident"`
	Returns string  `json:"returns,omitempty" jsonschema:"description=Return type; empty for unit"`
	Throws  string  `json:"throws,omitempty" jsonschema:"description=Name of a declared error enum"`
	Params  []Field `json:"params,omitempty" validate:"dive"`
	ID      uint32  `json:"id" validate:"required" jsonschema:"description=Stable numeric function id,minimum=1"`
	Async   bool    `json:"async,omitempty"`
}

// Object is a native type exposed by reference. Constructors return the
// object; methods take it as an implicit first argument named self.
type Object struct {
	Name         string     `json:"name" validate:"required,ident"`
	Constructors []Function `json:"constructors,omitempty" validate:"dive"`
	Methods      []Function `json:"methods,omitempty" validate:"dive"`
}

// Method is a method of a callback interface. Callback methods are invoked
// by index, so they carry no id.
type Method struct {
	Name    string  `json:"name" validate:"required,ident"`
	Returns string  `json:"returns,omitempty"`
	Throws  string  `json:"throws,omitempty"`
	Params  []Field `json:"params,omitempty" validate:"dive"`
}

// CallbackInterface is implemented by foreign code and called from native
// code.
type CallbackInterface struct {
	Name    string   `json:"name" validate:"required,ident"`
	Methods []Method `json:"methods" validate:"required,min=1,dive"`
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
	return v
}

// Parse decodes and validates a JSON document. Unknown fields are rejected.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.ParseFailed("interface description", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindNotFound, err, "read "+path)
	}
	return Parse(data)
}

// Validate runs struct validation and the consistency check.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return errors.Wrap(errors.PhaseSchema, errors.KindInvalidInput, err, "invalid interface description")
	}
	return d.Check()
}

// Marshal renders the document as indented JSON.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
