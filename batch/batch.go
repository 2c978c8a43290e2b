// Package batch models the atomic statement batches submitted to a store.
package batch

import (
	"context"
	"fmt"

	"github.com/jacentio/lattice/record"
)

// Kind is the operation performed by a statement.
type Kind int

const (
	Insert Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// Placeholder is the batch position of an insertion, used to reference the
// inserted record before the store has assigned its identity.
type Placeholder int

// Variable returns the script variable bound to the insertion (e.g., "r0").
func (p Placeholder) Variable() string {
	return fmt.Sprintf("r%d", int(p))
}

// Target addresses the record affected by an UPDATE or DELETE: either an
// existing identity or an insertion of the same batch.
type Target struct {
	RID         record.RID
	Placeholder Placeholder
	Pending     bool
}

// ByRID addresses a persisted record.
func ByRID(rid record.RID) Target {
	return Target{RID: rid}
}

// ByPlaceholder addresses a record inserted earlier in the same batch.
func ByPlaceholder(p Placeholder) Target {
	return Target{Placeholder: p, Pending: true}
}

// Assignment sets one property. Value is a wire value, a record.RID, a
// Placeholder or a []any of links.
type Assignment struct {
	Name  string
	Value any
}

// Statement is one operation of a batch.
type Statement struct {
	Kind  Kind
	Class string

	// Position is the batch position of an INSERT; -1 otherwise.
	Position int

	// Target addresses UPDATE and DELETE statements.
	Target Target

	Fields []Assignment
}

// Batch is an ordered sequence of statements executed all-or-nothing.
type Batch struct {
	Statements []Statement
	insertions int
}

// AddInsert appends an INSERT and returns its batch position.
func (b *Batch) AddInsert(class string, fields []Assignment) Placeholder {
	pos := b.insertions
	b.insertions++
	b.Statements = append(b.Statements, Statement{
		Kind:     Insert,
		Class:    class,
		Position: pos,
		Fields:   fields,
	})
	return Placeholder(pos)
}

// AddUpdate appends an UPDATE.
func (b *Batch) AddUpdate(class string, target Target, fields []Assignment) {
	b.Statements = append(b.Statements, Statement{
		Kind:     Update,
		Class:    class,
		Position: -1,
		Target:   target,
		Fields:   fields,
	})
}

// AddDelete appends a DELETE.
func (b *Batch) AddDelete(class string, rid record.RID) {
	b.Statements = append(b.Statements, Statement{
		Kind:     Delete,
		Class:    class,
		Position: -1,
		Target:   ByRID(rid),
	})
}

// Insertions returns the number of INSERT statements.
func (b *Batch) Insertions() int {
	return b.insertions
}

// Len returns the number of statements.
func (b *Batch) Len() int {
	return len(b.Statements)
}

// Empty reports whether the batch has no statements.
func (b *Batch) Empty() bool {
	return len(b.Statements) == 0
}

// Transport submits batches to a store.
//
// Submit must apply the batch atomically and return one result document per
// insertion, indexed by batch position, with the new identity under
// record.KeyRID. A failed Submit must leave the store unchanged.
type Transport interface {
	Submit(ctx context.Context, b *Batch) ([]record.Document, error)
}

// AtomicScripter is implemented by transports that can report whether they
// are able to execute atomic multi-statement batches in their current
// configuration.
type AtomicScripter interface {
	SupportsAtomicBatch() bool
}

// Finder is implemented by transports that can load single records.
type Finder interface {
	Load(ctx context.Context, class string, rid record.RID) (record.Document, error)
}

// SupportsAtomicBatch reports whether t can run atomic batches. Transports
// that do not implement AtomicScripter are assumed capable.
func SupportsAtomicBatch(t Transport) bool {
	if s, ok := t.(AtomicScripter); ok {
		return s.SupportsAtomicBatch()
	}
	return true
}

// Resolver binds placeholders to identities while a transport executes a
// batch in order.
type Resolver struct {
	bound map[Placeholder]record.RID
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{bound: make(map[Placeholder]record.RID)}
}

// Bind records the identity assigned to an insertion.
func (r *Resolver) Bind(p Placeholder, rid record.RID) {
	r.bound[p] = rid
}

// Target resolves a statement target to an identity.
func (r *Resolver) Target(t Target) (record.RID, error) {
	if !t.Pending {
		return t.RID, nil
	}
	rid, ok := r.bound[t.Placeholder]
	if !ok {
		return "", fmt.Errorf("lattice: placeholder $%s used before insertion", t.Placeholder.Variable())
	}
	return rid, nil
}

// Value replaces placeholders inside an assignment value with identities.
func (r *Resolver) Value(v any) (any, error) {
	switch x := v.(type) {
	case Placeholder:
		return r.Target(ByPlaceholder(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			rv, err := r.Value(e)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	}
	return v, nil
}
