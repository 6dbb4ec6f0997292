package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/types"
)

// Handler is the native implementation of a function.
// A nil value with a nil error is the unit result.
type Handler func(c *Call) (any, error)

// FuncDef declares one callable function.
//
// Methods carry the receiver's interface id in Receiver and take the
// receiver as their first parameter.
type FuncDef struct {
	Handler  Handler
	Returns  *types.Descriptor // nil for unit
	Throws   *types.Descriptor // declared error enum, nil if the function cannot fail
	Name     string
	Receiver string
	Params   []types.Field
	ID       uint32
	ThrowsID uint32
	Checksum uint16
	Async    bool
}

// ParamTypes returns the parameter descriptors in order.
func (f *FuncDef) ParamTypes() []*types.Descriptor {
	out := make([]*types.Descriptor, len(f.Params))
	for i, p := range f.Params {
		out[i] = p.Type
	}
	return out
}

func (f *FuncDef) String() string {
	return fmt.Sprintf("%s#%d", f.Name, f.ID)
}

// Registry holds function definitions keyed by id.
type Registry struct {
	byID   map[uint32]*FuncDef
	byName map[string]uint32
	mu     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint32]*FuncDef),
		byName: make(map[string]uint32),
	}
}

// Register adds def. Ids and names must be unique.
func (r *Registry) Register(def FuncDef) error {
	if err := validateDef(&def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[def.ID]; ok {
		return errors.Registration(errors.PhaseDispatch, "", def.Name,
			fmt.Errorf("id %d already used by %s", def.ID, existing.Name))
	}
	if _, ok := r.byName[def.Name]; ok {
		return errors.Registration(errors.PhaseDispatch, "", def.Name,
			fmt.Errorf("name already registered"))
	}

	d := def
	r.byID[def.ID] = &d
	r.byName[def.Name] = def.ID
	return nil
}

func validateDef(def *FuncDef) error {
	if def.Name == "" {
		return errors.InvalidInput(errors.PhaseDispatch, "function name cannot be empty")
	}
	if def.Handler == nil {
		return errors.Registration(errors.PhaseDispatch, "", def.Name,
			errors.InvalidInput(errors.PhaseDispatch, "handler cannot be nil"))
	}
	for _, p := range def.Params {
		if p.Type == nil {
			return errors.Registration(errors.PhaseDispatch, "", def.Name,
				errors.InvalidInput(errors.PhaseDispatch, "parameter "+p.Name+" has no type"))
		}
		if err := p.Type.Validate(); err != nil {
			return errors.Registration(errors.PhaseDispatch, "", def.Name, err)
		}
	}
	if def.Returns != nil {
		if err := def.Returns.Validate(); err != nil {
			return errors.Registration(errors.PhaseDispatch, "", def.Name, err)
		}
	}
	if def.Throws != nil && def.Throws.Kind != types.KindEnum {
		return errors.Registration(errors.PhaseDispatch, "", def.Name,
			errors.InvalidInput(errors.PhaseDispatch, "error type must be an enum, got "+def.Throws.String()))
	}
	if def.Receiver != "" {
		if len(def.Params) == 0 || def.Params[0].Type.Kind != types.KindObject || def.Params[0].Type.Name != def.Receiver {
			return errors.Registration(errors.PhaseDispatch, "", def.Name,
				errors.InvalidInput(errors.PhaseDispatch, "method must take its receiver "+def.Receiver+" first"))
		}
	}
	return nil
}

func (r *Registry) Lookup(id uint32) (*FuncDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[id]
	return def, ok
}

// Resolve returns the id registered for name. Unknown names produce an
// UnknownFunction error carrying the closest registered name.
func (r *Registry) Resolve(name string) (uint32, error) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}
	return 0, errors.New(errors.PhaseDispatch, errors.KindUnknownFunction).
		Value(name).
		Detail("no function named %q%s", name, hintSuffix(r.Suggest(name))).
		Build()
}

// Defs returns every definition ordered by id.
func (r *Registry) Defs() []*FuncDef {
	r.mu.RLock()
	defs := make([]*FuncDef, 0, len(r.byID))
	for _, def := range r.byID {
		defs = append(defs, def)
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Suggest returns the registered name closest to name, or "" when nothing
// is close enough to be a plausible typo.
func (r *Registry) Suggest(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return Closest(name, names)
}

// Closest returns the candidate with the smallest edit distance to name,
// provided the distance is at most a third of name's length (minimum 2).
func Closest(name string, candidates []string) string {
	sort.Strings(candidates)
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(name, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}

// nearestID describes the registered id numerically closest to id.
func (r *Registry) nearestID(id uint32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  *FuncDef
		delta uint64
	)
	for _, def := range r.byID {
		d := uint64(def.ID) - uint64(id)
		if def.ID < id {
			d = uint64(id) - uint64(def.ID)
		}
		if best == nil || d < delta || (d == delta && def.ID < best.ID) {
			best, delta = def, d
		}
	}
	if best == nil || delta > 8 {
		return ""
	}
	return fmt.Sprintf("did you mean %d (%s)?", best.ID, best.Name)
}

func hintSuffix(suggestion string) string {
	if suggestion == "" {
		return ""
	}
	return fmt.Sprintf("; did you mean %q?", suggestion)
}
