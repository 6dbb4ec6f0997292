package schema

import (
	"sort"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/types"
)

// Interface is a resolved document: descriptors for every named type and
// function definitions ready to bind to native handlers.
type Interface struct {
	Doc       *Document
	types     map[string]*types.Descriptor
	functions []dispatch.FuncDef
	callbacks []dispatch.CallbackInterface
	errorIDs  map[string]uint32
	checksum  uint64
}

type resolver struct {
	doc      *Document
	types    map[string]*types.Descriptor
	records  map[string]*Record
	enums    map[string]*Enum
	errors   map[string]*Enum
	objects  map[string]bool
	inflight map[string]bool
}

// Resolve checks the document and builds its descriptors.
func Resolve(doc *Document) (*Interface, error) {
	if err := doc.Check(); err != nil {
		return nil, err
	}
	r := &resolver{
		doc:      doc,
		types:    make(map[string]*types.Descriptor),
		records:  make(map[string]*Record),
		enums:    make(map[string]*Enum),
		errors:   make(map[string]*Enum),
		objects:  make(map[string]bool),
		inflight: make(map[string]bool),
	}
	for i := range doc.Records {
		r.records[doc.Records[i].Name] = &doc.Records[i]
	}
	for i := range doc.Enums {
		r.enums[doc.Enums[i].Name] = &doc.Enums[i]
	}
	for i := range doc.Errors {
		r.errors[doc.Errors[i].Name] = &doc.Errors[i]
	}
	for _, o := range doc.Objects {
		r.objects[o.Name] = true
	}
	for _, ci := range doc.CallbackInterfaces {
		r.objects[ci.Name] = true
	}

	iface := &Interface{Doc: doc, types: r.types, errorIDs: make(map[string]uint32)}
	for name := range r.records {
		if _, err := r.named(name); err != nil {
			return nil, err
		}
	}
	for name := range r.enums {
		if _, err := r.named(name); err != nil {
			return nil, err
		}
	}
	for name := range r.errors {
		d, err := r.named(name)
		if err != nil {
			return nil, err
		}
		iface.errorIDs[name] = ErrorTypeID(d)
	}

	if err := r.functions(iface); err != nil {
		return nil, err
	}
	if err := r.callbackInterfaces(iface); err != nil {
		return nil, err
	}
	iface.checksum = checksumOf(doc.Namespace, iface.functions, iface.callbacks)
	for i := range iface.functions {
		iface.functions[i].Checksum = FunctionChecksum(&iface.functions[i])
	}
	return iface, nil
}

// Resolve looks up a named type.
func (r *resolver) Resolve(name string) (*types.Descriptor, bool) {
	d, err := r.named(name)
	return d, err == nil && d != nil
}

func (r *resolver) named(name string) (*types.Descriptor, error) {
	if d, ok := r.types[name]; ok {
		return d, nil
	}
	if r.objects[name] {
		d := types.Object(name)
		r.types[name] = d
		return d, nil
	}
	if r.inflight[name] {
		return nil, errors.InvalidInput(errors.PhaseSchema, "recursive type "+name)
	}
	r.inflight[name] = true
	defer delete(r.inflight, name)

	if rec, ok := r.records[name]; ok {
		fields, err := r.fields(rec.Fields)
		if err != nil {
			return nil, err
		}
		d := types.Record(name, fields...)
		r.types[name] = d
		return d, nil
	}

	e, isErr := r.errors[name]
	if !isErr {
		var ok bool
		if e, ok = r.enums[name]; !ok {
			return nil, errors.NotFound(errors.PhaseSchema, "type", name)
		}
	}
	variants := make([]types.Variant, len(e.Variants))
	for i, v := range e.Variants {
		fields, err := r.fields(v.Fields)
		if err != nil {
			return nil, err
		}
		variants[i] = types.V(v.Name, fields...)
	}
	var d *types.Descriptor
	if isErr {
		d = types.ErrorEnum(name, variants...)
	} else {
		d = types.Enum(name, variants...)
	}
	r.types[name] = d
	return d, nil
}

func (r *resolver) parse(expr string) (*types.Descriptor, error) {
	if expr == "" {
		return nil, nil
	}
	return types.ParseWith(expr, r)
}

func (r *resolver) fields(fs []Field) ([]types.Field, error) {
	out := make([]types.Field, len(fs))
	for i, f := range fs {
		d, err := r.parse(f.Type)
		if err != nil {
			return nil, err
		}
		out[i] = types.F(f.Name, d)
		if len(f.Default) > 0 {
			v, err := literal(f.Default, d, []string{f.Name})
			if err != nil {
				return nil, err
			}
			out[i] = out[i].WithDefault(v)
		}
	}
	return out, nil
}

func (r *resolver) def(fn Function, name string) (dispatch.FuncDef, error) {
	params, err := r.fields(fn.Params)
	if err != nil {
		return dispatch.FuncDef{}, err
	}
	returns, err := r.parse(fn.Returns)
	if err != nil {
		return dispatch.FuncDef{}, err
	}
	def := dispatch.FuncDef{
		ID:      fn.ID,
		Name:    name,
		Params:  params,
		Returns: returns,
		Async:   fn.Async,
	}
	if fn.Throws != "" {
		def.Throws = r.types[fn.Throws]
		def.ThrowsID = ErrorTypeID(def.Throws)
	}
	return def, nil
}

func (r *resolver) functions(iface *Interface) error {
	for _, fn := range r.doc.Functions {
		def, err := r.def(fn, fn.Name)
		if err != nil {
			return err
		}
		iface.functions = append(iface.functions, def)
	}
	for _, o := range r.doc.Objects {
		self := types.F("self", r.types[o.Name])
		for _, fn := range o.Constructors {
			def, err := r.def(fn, o.Name+"."+fn.Name)
			if err != nil {
				return err
			}
			def.Returns = self.Type
			iface.functions = append(iface.functions, def)
		}
		for _, fn := range o.Methods {
			def, err := r.def(fn, o.Name+"."+fn.Name)
			if err != nil {
				return err
			}
			def.Receiver = o.Name
			def.Params = append([]types.Field{self}, def.Params...)
			iface.functions = append(iface.functions, def)
		}
	}
	sort.Slice(iface.functions, func(i, j int) bool {
		return iface.functions[i].ID < iface.functions[j].ID
	})
	return nil
}

func (r *resolver) callbackInterfaces(iface *Interface) error {
	for _, ci := range r.doc.CallbackInterfaces {
		out := dispatch.CallbackInterface{Name: ci.Name}
		for _, m := range ci.Methods {
			params, err := r.fields(m.Params)
			if err != nil {
				return err
			}
			returns, err := r.parse(m.Returns)
			if err != nil {
				return err
			}
			cm := dispatch.CallbackMethod{Name: m.Name, Params: params, Returns: returns}
			if m.Throws != "" {
				cm.Throws = r.types[m.Throws]
			}
			out.Methods = append(out.Methods, cm)
		}
		iface.callbacks = append(iface.callbacks, out)
	}
	return nil
}

func (i *Interface) Namespace() string { return i.Doc.Namespace }
func (i *Interface) Version() string   { return i.Doc.Version }

// Type returns the descriptor of a named type.
func (i *Interface) Type(name string) (*types.Descriptor, bool) {
	d, ok := i.types[name]
	return d, ok
}

// Functions returns function definitions ordered by id, without handlers.
// The slice is a copy; callers may set handlers on it.
func (i *Interface) Functions() []dispatch.FuncDef {
	return append([]dispatch.FuncDef(nil), i.functions...)
}

// Function returns the definition with the given qualified name.
func (i *Interface) Function(name string) (dispatch.FuncDef, bool) {
	for _, f := range i.functions {
		if f.Name == name {
			return f, true
		}
	}
	return dispatch.FuncDef{}, false
}

// CallbackInterfaces returns the callback interfaces in declaration order.
func (i *Interface) CallbackInterfaces() []dispatch.CallbackInterface {
	return append([]dispatch.CallbackInterface(nil), i.callbacks...)
}

// ErrorTypeID returns the id a declared error enum is reported under.
func (i *Interface) ErrorTypeID(name string) (uint32, bool) {
	id, ok := i.errorIDs[name]
	return id, ok
}
