package mapping_test

import (
	"errors"
	"testing"

	"github.com/expr-lang/expr"

	"github.com/jacentio/lattice/internal/testmodel"
	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

func bare(typ string, assocs ...mapping.AssociationMapping) *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type:         typ,
		Associations: assocs,
		Identity:     func(any) record.RID { return "" },
		SetIdentity:  func(any, record.RID) {},
	}
}

func TestNewRegistry(t *testing.T) {
	r := mapping.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if len(r.Classes()) != 0 {
		t.Errorf("expected no classes, got %d", len(r.Classes()))
	}
}

// --- Register Tests ---

func TestRegistry_Register(t *testing.T) {
	r := mapping.NewRegistry()
	if err := r.Register(testmodel.NodeMetadata()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meta, err := r.Metadata("Node")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Class != "Node" {
		t.Errorf("expected class to default to the type name, got %q", meta.Class)
	}
	if got, _ := r.MetadataFor(&testmodel.Node{}); got != meta {
		t.Error("expected MetadataFor to return the registered metadata")
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := mapping.NewRegistry()
	r.MustRegister(bare("Node"))

	if err := r.Register(bare("Node")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := r.Register(bare("")); err == nil {
		t.Error("expected missing type name to fail")
	}
	if err := r.Register(&mapping.ClassMetadata{Type: "NoIdentity"}); err == nil {
		t.Error("expected missing identity accessors to fail")
	}

	broken := bare("Broken")
	broken.Fields = []mapping.FieldMapping{{Name: "x", Constraints: []string{"value >"}}}
	if err := r.Register(broken); err == nil {
		t.Error("expected invalid constraint to fail compilation")
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected MustRegister to panic")
		}
	}()
	mapping.NewRegistry().MustRegister(bare("A"), bare("A"))
}

func TestRegistry_Seal(t *testing.T) {
	r := mapping.NewRegistry().MustRegister(bare("A")).Seal()
	if !r.Sealed() {
		t.Error("expected registry to be sealed")
	}
	if err := r.Register(bare("B")); !errors.Is(err, mapping.ErrSealed) {
		t.Errorf("expected ErrSealed, got %v", err)
	}
}

// --- Lookup Tests ---

func TestRegistry_Validate(t *testing.T) {
	r := mapping.NewRegistry().MustRegister(
		bare("Contact", mapping.AssociationMapping{Name: "phones", TargetType: "Phone"}),
	)
	err := r.Validate()
	var mapErr *mapping.MappingError
	if !errors.As(err, &mapErr) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if mapErr.Type != "Contact" || mapErr.Association != "phones" || mapErr.Target != "Phone" {
		t.Errorf("unexpected error fields %+v", mapErr)
	}

	if err := testmodel.Registry().Validate(); err != nil {
		t.Errorf("expected test model to validate, got %v", err)
	}
}

func TestRegistry_MetadataUnknown(t *testing.T) {
	_, err := mapping.NewRegistry().Metadata("Ghost")
	var mapErr *mapping.MappingError
	if !errors.As(err, &mapErr) || mapErr.Target != "Ghost" {
		t.Errorf("expected MappingError for Ghost, got %v", err)
	}
}

func TestRegistry_Target(t *testing.T) {
	r := testmodel.Registry()
	contact, _ := r.Metadata("Contact")
	emails, ok := contact.Association("emails")
	if !ok {
		t.Fatal("expected emails association")
	}
	target, err := r.Target(contact, emails)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Type != "EmailAddress" {
		t.Errorf("expected EmailAddress, got %s", target.Type)
	}
}

func TestRegistry_Constraint(t *testing.T) {
	r := testmodel.Registry()
	prog, ok := r.Constraint("Contact", "age", "value >= 0")
	if !ok {
		t.Fatal("expected compiled constraint for Contact.age")
	}
	out, err := expr.Run(prog, map[string]any{"value": int64(-1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != false {
		t.Errorf("expected constraint to fail for -1, got %v", out)
	}
	if _, ok := r.Constraint("Contact", "age", "value > 100"); ok {
		t.Error("expected unknown constraint source to be missing")
	}
}

// --- Metadata Tests ---

func TestAssociationMapping_StoredName(t *testing.T) {
	tests := []struct {
		dir  mapping.Direction
		want string
	}{
		{mapping.Link, "owner"},
		{mapping.Out, "out_owner"},
		{mapping.In, "in_owner"},
	}
	for _, tt := range tests {
		a := mapping.AssociationMapping{Name: "owner", Direction: tt.dir}
		if got := a.StoredName(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}

func TestCascade_Has(t *testing.T) {
	if !mapping.CascadeAll.Has(mapping.CascadePersist) || !mapping.CascadeAll.Has(mapping.CascadeRemove) {
		t.Error("expected CascadeAll to include persist and remove")
	}
	if mapping.CascadePersist.Has(mapping.CascadeRemove) {
		t.Error("expected CascadePersist not to include remove")
	}
}

func TestClassMetadata_Links(t *testing.T) {
	contact := testmodel.ContactMetadata()
	for _, a := range contact.Links() {
		if a.Embedded {
			t.Errorf("expected only link associations, got embedded %s", a.Name)
		}
	}
	if _, ok := contact.Field("name"); !ok {
		t.Error("expected name field")
	}
	if _, ok := contact.Field("missing"); ok {
		t.Error("expected missing field lookup to fail")
	}
}

func TestIsPointer(t *testing.T) {
	if !mapping.IsPointer(&testmodel.Node{}) {
		t.Error("expected pointer entity to qualify")
	}
	if mapping.IsPointer(nil) {
		t.Error("expected nil entity not to qualify")
	}
}
