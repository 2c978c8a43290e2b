package odm

import (
	"reflect"
	"sort"

	"github.com/jacentio/lattice/record"
)

// FieldChange is the old and new wire value of one property.
type FieldChange struct {
	Old any
	New any
}

// AssociationChange describes a changed link association.
type AssociationChange struct {
	// Old holds the identities linked at the last snapshot.
	Old []record.RID

	// New holds the currently linked entities.
	New []any

	// Added holds linked entities that were not linked at the last snapshot.
	Added []any

	// Removed holds identities no longer linked.
	Removed []record.RID
}

// ChangeSet is the field-level difference between an entity and its last
// persisted state. Keys are stored property names.
type ChangeSet struct {
	Fields       map[string]FieldChange
	Associations map[string]*AssociationChange
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Fields:       make(map[string]FieldChange),
		Associations: make(map[string]*AssociationChange),
	}
}

// Empty reports whether nothing changed.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Fields) == 0 && len(cs.Associations) == 0)
}

// Has reports whether the property changed.
func (cs *ChangeSet) Has(name string) bool {
	if cs == nil {
		return false
	}
	if _, ok := cs.Fields[name]; ok {
		return true
	}
	_, ok := cs.Associations[name]
	return ok
}

// Names returns the changed property names in sorted order.
func (cs *ChangeSet) Names() []string {
	if cs == nil {
		return nil
	}
	names := make([]string, 0, len(cs.Fields)+len(cs.Associations))
	for k := range cs.Fields {
		names = append(names, k)
	}
	for k := range cs.Associations {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DiffDocuments compares two stored documents field by field, ignoring
// reserved keys. Either document may be nil.
func DiffDocuments(old, new record.Document) *ChangeSet {
	cs := newChangeSet()
	for k, nv := range new {
		if record.IsReserved(k) {
			continue
		}
		if ov := old[k]; !valuesEqual(ov, nv) {
			cs.Fields[k] = FieldChange{Old: ov, New: nv}
		}
	}
	for k, ov := range old {
		if record.IsReserved(k) {
			continue
		}
		if _, ok := new[k]; !ok && ov != nil {
			cs.Fields[k] = FieldChange{Old: ov}
		}
	}
	return cs
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

func ridsEqual(a, b []record.RID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
