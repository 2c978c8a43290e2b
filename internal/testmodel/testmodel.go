// Package testmodel provides mapped entity types shared by package tests.
package testmodel

import (
	"time"

	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

// Contact links to its email addresses with full cascade and embeds an address.
type Contact struct {
	RID     record.RID
	Name    string
	Age     int
	Born    time.Time
	Tags    []string
	Home    *Address
	Emails  []*EmailAddress
	Friend  *Contact
	Version int64
}

func (c *Contact) EntityType() string { return "Contact" }

// EmailAddress links back to its owner without cascade.
type EmailAddress struct {
	RID     record.RID
	Address string
	Owner   *Contact
}

func (e *EmailAddress) EntityType() string { return "EmailAddress" }

// Address is stored embedded in its owner.
type Address struct {
	Street string
	City   string
}

func (a *Address) EntityType() string { return "Address" }

// Node links to a node of its own type.
type Node struct {
	RID   record.RID
	Label string
	Next  *Node
}

func (n *Node) EntityType() string { return "Node" }

// Author and Book cascade persist to each other, forming a type cycle.
type Author struct {
	RID   record.RID
	Name  string
	Books []*Book
}

func (a *Author) EntityType() string { return "Author" }

type Book struct {
	RID    record.RID
	Title  string
	Author *Author
}

func (b *Book) EntityType() string { return "Book" }

func one[T any](v *T) []any {
	if v == nil {
		return nil
	}
	return []any{v}
}

func many[T any](vs []*T) []any {
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		out = append(out, v)
	}
	return out
}

func first[T any](targets []any) *T {
	if len(targets) == 0 {
		return nil
	}
	v, _ := targets[0].(*T)
	return v
}

func all[T any](targets []any) []*T {
	out := make([]*T, 0, len(targets))
	for _, t := range targets {
		if v, ok := t.(*T); ok {
			out = append(out, v)
		}
	}
	return out
}

// ContactMetadata maps Contact.
func ContactMetadata() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type:         "Contact",
		VersionField: "version",
		Fields: []mapping.FieldMapping{
			{
				Name:        "name",
				Type:        mapping.String,
				Constraints: []string{`len(value) > 0`},
				Get:         func(e any) any { return e.(*Contact).Name },
				Set:         func(e any, v any) { e.(*Contact).Name, _ = v.(string) },
			},
			{
				Name:        "age",
				Type:        mapping.Integer,
				Constraints: []string{`value >= 0`},
				Get:         func(e any) any { return e.(*Contact).Age },
				Set: func(e any, v any) {
					n, _ := v.(int64)
					e.(*Contact).Age = int(n)
				},
			},
			{
				Name:     "born",
				Type:     mapping.DateTime,
				Nullable: true,
				Get: func(e any) any {
					if c := e.(*Contact); !c.Born.IsZero() {
						return c.Born
					}
					return nil
				},
				Set: func(e any, v any) { e.(*Contact).Born, _ = v.(time.Time) },
			},
			{
				Name:     "tags",
				Type:     mapping.EmbeddedList,
				Nullable: true,
				Get: func(e any) any {
					c := e.(*Contact)
					if c.Tags == nil {
						return nil
					}
					out := make([]any, len(c.Tags))
					for i, t := range c.Tags {
						out[i] = t
					}
					return out
				},
				Set: func(e any, v any) {
					list, _ := v.([]any)
					c := e.(*Contact)
					c.Tags = nil
					for _, t := range list {
						if s, ok := t.(string); ok {
							c.Tags = append(c.Tags, s)
						}
					}
				},
			},
			{
				Name:     "version",
				Type:     mapping.Integer,
				Nullable: true,
				Get:      func(e any) any { return e.(*Contact).Version },
				Set:      func(e any, v any) { e.(*Contact).Version, _ = v.(int64) },
			},
		},
		Associations: []mapping.AssociationMapping{
			{
				Name:       "home",
				TargetType: "Address",
				Embedded:   true,
				Get:        func(e any) []any { return one(e.(*Contact).Home) },
				Set:        func(e any, ts []any) { e.(*Contact).Home = first[Address](ts) },
			},
			{
				Name:        "emails",
				TargetType:  "EmailAddress",
				Cardinality: mapping.Many,
				Cascade:     mapping.CascadeAll,
				Direction:   mapping.Out,
				Get:         func(e any) []any { return many(e.(*Contact).Emails) },
				Set:         func(e any, ts []any) { e.(*Contact).Emails = all[EmailAddress](ts) },
			},
			{
				Name:       "friend",
				TargetType: "Contact",
				Get:        func(e any) []any { return one(e.(*Contact).Friend) },
				Set:        func(e any, ts []any) { e.(*Contact).Friend = first[Contact](ts) },
			},
		},
		New:         func() mapping.Entity { return &Contact{} },
		Identity:    func(e any) record.RID { return e.(*Contact).RID },
		SetIdentity: func(e any, rid record.RID) { e.(*Contact).RID = rid },
	}
}

// EmailAddressMetadata maps EmailAddress.
func EmailAddressMetadata() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type: "EmailAddress",
		Fields: []mapping.FieldMapping{
			{
				Name:        "address",
				Type:        mapping.String,
				Constraints: []string{`value contains "@"`},
				Get:         func(e any) any { return e.(*EmailAddress).Address },
				Set:         func(e any, v any) { e.(*EmailAddress).Address, _ = v.(string) },
			},
		},
		Associations: []mapping.AssociationMapping{
			{
				Name:       "owner",
				TargetType: "Contact",
				Direction:  mapping.In,
				Get:        func(e any) []any { return one(e.(*EmailAddress).Owner) },
				Set:        func(e any, ts []any) { e.(*EmailAddress).Owner = first[Contact](ts) },
			},
		},
		New:         func() mapping.Entity { return &EmailAddress{} },
		Identity:    func(e any) record.RID { return e.(*EmailAddress).RID },
		SetIdentity: func(e any, rid record.RID) { e.(*EmailAddress).RID = rid },
	}
}

// AddressMetadata maps the embedded Address. Embedded types have no identity
// of their own; the accessors are no-ops.
func AddressMetadata() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type: "Address",
		Fields: []mapping.FieldMapping{
			{
				Name: "street",
				Type: mapping.String,
				Get:  func(e any) any { return e.(*Address).Street },
				Set:  func(e any, v any) { e.(*Address).Street, _ = v.(string) },
			},
			{
				Name: "city",
				Type: mapping.String,
				Get:  func(e any) any { return e.(*Address).City },
				Set:  func(e any, v any) { e.(*Address).City, _ = v.(string) },
			},
		},
		New:         func() mapping.Entity { return &Address{} },
		Identity:    func(any) record.RID { return "" },
		SetIdentity: func(any, record.RID) {},
	}
}

// NodeMetadata maps Node.
func NodeMetadata() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type: "Node",
		Fields: []mapping.FieldMapping{
			{
				Name: "label",
				Type: mapping.String,
				Get:  func(e any) any { return e.(*Node).Label },
				Set:  func(e any, v any) { e.(*Node).Label, _ = v.(string) },
			},
		},
		Associations: []mapping.AssociationMapping{
			{
				Name:       "next",
				TargetType: "Node",
				Cascade:    mapping.CascadePersist,
				Get:        func(e any) []any { return one(e.(*Node).Next) },
				Set:        func(e any, ts []any) { e.(*Node).Next = first[Node](ts) },
			},
		},
		New:         func() mapping.Entity { return &Node{} },
		Identity:    func(e any) record.RID { return e.(*Node).RID },
		SetIdentity: func(e any, rid record.RID) { e.(*Node).RID = rid },
	}
}

// AuthorMetadata maps Author.
func AuthorMetadata() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type: "Author",
		Fields: []mapping.FieldMapping{
			{
				Name: "name",
				Type: mapping.String,
				Get:  func(e any) any { return e.(*Author).Name },
				Set:  func(e any, v any) { e.(*Author).Name, _ = v.(string) },
			},
		},
		Associations: []mapping.AssociationMapping{
			{
				Name:        "books",
				TargetType:  "Book",
				Cardinality: mapping.Many,
				Cascade:     mapping.CascadePersist,
				Get:         func(e any) []any { return many(e.(*Author).Books) },
				Set:         func(e any, ts []any) { e.(*Author).Books = all[Book](ts) },
			},
		},
		New:         func() mapping.Entity { return &Author{} },
		Identity:    func(e any) record.RID { return e.(*Author).RID },
		SetIdentity: func(e any, rid record.RID) { e.(*Author).RID = rid },
	}
}

// BookMetadata maps Book.
func BookMetadata() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Type: "Book",
		Fields: []mapping.FieldMapping{
			{
				Name: "title",
				Type: mapping.String,
				Get:  func(e any) any { return e.(*Book).Title },
				Set:  func(e any, v any) { e.(*Book).Title, _ = v.(string) },
			},
		},
		Associations: []mapping.AssociationMapping{
			{
				Name:       "author",
				TargetType: "Author",
				Cascade:    mapping.CascadePersist,
				Get:        func(e any) []any { return one(e.(*Book).Author) },
				Set:        func(e any, ts []any) { e.(*Book).Author = first[Author](ts) },
			},
		},
		New:         func() mapping.Entity { return &Book{} },
		Identity:    func(e any) record.RID { return e.(*Book).RID },
		SetIdentity: func(e any, rid record.RID) { e.(*Book).RID = rid },
	}
}

// Registry returns an unsealed registry with every test type registered.
func Registry() *mapping.Registry {
	return mapping.NewRegistry().MustRegister(
		ContactMetadata(),
		EmailAddressMetadata(),
		AddressMetadata(),
		NodeMetadata(),
		AuthorMetadata(),
		BookMetadata(),
	)
}
