// Package mapping holds the per-type descriptors that drive persistence.
package mapping

import "github.com/jacentio/lattice/record"

// Entity is the base interface for all mapped types.
//
// Entities must be pointers: the unit of work keys its identity map on the
// pointer value.
type Entity interface {
	// EntityType returns the mapped type name (e.g., "Contact").
	EntityType() string
}

// FieldType selects the casting function applied to a field value.
type FieldType int

const (
	String FieldType = iota
	Integer
	Float
	Boolean
	DateTime
	Date
	Binary
	EmbeddedMap
	EmbeddedList
	Any
)

var fieldTypeNames = map[FieldType]string{
	String:       "string",
	Integer:      "integer",
	Float:        "float",
	Boolean:      "boolean",
	DateTime:     "datetime",
	Date:         "date",
	Binary:       "binary",
	EmbeddedMap:  "embeddedmap",
	EmbeddedList: "embeddedlist",
	Any:          "any",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// FieldMapping maps one scalar or embedded-value property.
type FieldMapping struct {
	// Name is the property name in the store.
	Name string

	// Type selects the wire cast for the value.
	Type FieldType

	// Nullable permits nil values.
	Nullable bool

	// Constraints are boolean expressions evaluated before a commit.
	// The expression environment exposes `value` and `entity` (the cast document).
	Constraints []string

	// Get reads the field from an entity.
	Get func(entity any) any

	// Set writes a hydrated value onto an entity. Optional for write-only mappings.
	Set func(entity any, value any)
}

// Cardinality is the multiplicity of an association.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

// Cascade is a bitmask of operations propagated through an association.
type Cascade int

const (
	CascadePersist Cascade = 1 << iota
	CascadeRemove

	CascadeNone Cascade = 0
	CascadeAll          = CascadePersist | CascadeRemove
)

// Has reports whether c includes op.
func (c Cascade) Has(op Cascade) bool {
	return c&op == op
}

// Direction is the edge direction of a graph association.
type Direction int

const (
	// Link stores a plain link property.
	Link Direction = iota

	// Out stores the association as an outgoing edge collection ("out_<name>").
	Out

	// In stores the association as an incoming edge collection ("in_<name>").
	In
)

// AssociationMapping maps a reference from one entity to others.
type AssociationMapping struct {
	// Name is the logical association name.
	Name string

	// TargetType is the mapped type name of the associated entities.
	TargetType string

	Cardinality Cardinality

	// Embedded stores the targets inline as documents instead of links.
	Embedded bool

	Cascade Cascade

	Direction Direction

	// Get returns the associated entities (zero or one element for One).
	Get func(entity any) []any

	// Set writes hydrated targets onto an entity. Optional.
	Set func(entity any, targets []any)
}

// StoredName returns the property name used in the store.
func (a AssociationMapping) StoredName() string {
	switch a.Direction {
	case Out:
		return "out_" + a.Name
	case In:
		return "in_" + a.Name
	}
	return a.Name
}

// IsLink reports whether the association is stored as identity references.
func (a AssociationMapping) IsLink() bool {
	return !a.Embedded
}

// ClassMetadata describes one mapped type.
type ClassMetadata struct {
	// Type is the mapped type name returned by Entity.EntityType.
	Type string

	// Class is the storage-class name (defaults to Type).
	Class string

	// VersionField names a field carrying a record version. It is written and
	// diffed like any other field; no check-and-set is performed.
	VersionField string

	Fields       []FieldMapping
	Associations []AssociationMapping

	// New allocates an empty instance for hydration.
	New func() Entity

	// Identity reads the identity from an entity.
	Identity func(entity any) record.RID

	// SetIdentity writes a newly assigned identity onto an entity.
	SetIdentity func(entity any, rid record.RID)
}

// Field returns the field mapping named name.
func (m *ClassMetadata) Field(name string) (FieldMapping, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// Association returns the association mapping named name.
func (m *ClassMetadata) Association(name string) (AssociationMapping, bool) {
	for _, a := range m.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return AssociationMapping{}, false
}

// Links returns the link (non-embedded) associations.
func (m *ClassMetadata) Links() []AssociationMapping {
	var out []AssociationMapping
	for _, a := range m.Associations {
		if a.IsLink() {
			out = append(out, a)
		}
	}
	return out
}
