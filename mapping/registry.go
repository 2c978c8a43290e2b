package mapping

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrSealed is returned when registering metadata after Seal.
var ErrSealed = errors.New("lattice: metadata registry is sealed")

// MappingError reports a reference to a type the registry does not know.
type MappingError struct {
	// Type is the type whose mapping is invalid (empty for a direct lookup).
	Type string

	// Association is the offending association name, if any.
	Association string

	// Target is the unregistered type name.
	Target string
}

func (e *MappingError) Error() string {
	if e.Association != "" {
		return fmt.Sprintf("lattice: association %s.%s targets unregistered type %q", e.Type, e.Association, e.Target)
	}
	return fmt.Sprintf("lattice: type %q is not registered", e.Target)
}

// Registry holds the class metadata of every mapped type.
//
// Metadata is registered at startup and sealed; after Seal the registry is
// read-only and safe to share between sessions without locking.
type Registry struct {
	classes     []*ClassMetadata
	byType      map[string]*ClassMetadata
	constraints map[constraintKey]*vm.Program
	sealed      bool
}

type constraintKey struct {
	typ, field, src string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		classes:     []*ClassMetadata{},
		byType:      make(map[string]*ClassMetadata),
		constraints: make(map[constraintKey]*vm.Program),
	}
}

// Register adds class metadata to the registry.
// This should be called during startup for each mapped type.
func (r *Registry) Register(meta *ClassMetadata) error {
	if r.sealed {
		return ErrSealed
	}
	if meta.Type == "" {
		return errors.New("lattice: class metadata without type name")
	}
	if meta.Identity == nil || meta.SetIdentity == nil {
		return fmt.Errorf("lattice: class %q has no identity accessors", meta.Type)
	}
	if meta.Class == "" {
		meta.Class = meta.Type
	}
	if _, exists := r.byType[meta.Type]; exists {
		return fmt.Errorf("lattice: class %q registered twice", meta.Type)
	}
	for _, f := range meta.Fields {
		for _, src := range f.Constraints {
			prog, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
			if err != nil {
				return fmt.Errorf("compile constraint %s.%s: %w", meta.Type, f.Name, err)
			}
			r.constraints[constraintKey{meta.Type, f.Name, src}] = prog
		}
	}
	r.classes = append(r.classes, meta)
	r.byType[meta.Type] = meta
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(metas ...*ClassMetadata) *Registry {
	for _, m := range metas {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Seal makes the registry read-only.
func (r *Registry) Seal() *Registry {
	r.sealed = true
	return r
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Validate checks that every association targets a registered type.
func (r *Registry) Validate() error {
	for _, meta := range r.classes {
		for _, a := range meta.Associations {
			if _, ok := r.byType[a.TargetType]; !ok {
				return &MappingError{Type: meta.Type, Association: a.Name, Target: a.TargetType}
			}
		}
	}
	return nil
}

// Metadata returns the metadata registered for a type name.
func (r *Registry) Metadata(typ string) (*ClassMetadata, error) {
	meta, ok := r.byType[typ]
	if !ok {
		return nil, &MappingError{Target: typ}
	}
	return meta, nil
}

// MetadataFor returns the metadata of an entity's type.
func (r *Registry) MetadataFor(entity Entity) (*ClassMetadata, error) {
	return r.Metadata(entity.EntityType())
}

// Target returns the metadata of an association's target type.
func (r *Registry) Target(owner *ClassMetadata, a AssociationMapping) (*ClassMetadata, error) {
	meta, ok := r.byType[a.TargetType]
	if !ok {
		return nil, &MappingError{Type: owner.Type, Association: a.Name, Target: a.TargetType}
	}
	return meta, nil
}

// Classes returns all registered metadata in registration order.
func (r *Registry) Classes() []*ClassMetadata {
	return r.classes
}

// Constraint returns the compiled program for a field constraint.
func (r *Registry) Constraint(typ, field, src string) (*vm.Program, bool) {
	prog, ok := r.constraints[constraintKey{typ, field, src}]
	return prog, ok
}

// IsPointer reports whether an entity value can key an identity map.
func IsPointer(entity Entity) bool {
	if entity == nil {
		return false
	}
	return reflect.TypeOf(entity).Kind() == reflect.Pointer
}
