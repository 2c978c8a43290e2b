// Package odm maps entities to records of a schema-flexible document/graph
// store and commits their changes as ordered, atomic batches.
//
// The store has no foreign keys of its own, so the unit of work orders the
// batch itself: records referenced through cascade-persist links are inserted
// first, and records inserted by the same batch are referenced through their
// batch position until the store assigns identities.
//
// # Key Features
//
//   - Identity map: one instance per record identity within a session
//   - Field-level change sets driven by class metadata, no reflection
//   - Cascading persist/remove with cycle-safe traversal
//   - Commit ordering of entity types (see package commitorder)
//   - One all-or-nothing batch per commit with forward references
//   - Field constraints evaluated before submission
//
// # Entity Interfaces
//
// All entities implement [mapping.Entity] and are registered with a
// [mapping.Registry]:
//
//	type Entity interface {
//	    EntityType() string
//	}
//
// # Usage
//
//	sess := odm.NewSession(registry, memory.New(), odm.DefaultConfig())
//	contact := &Contact{Name: "Sydney", Email: &EmailAddress{Address: "s@example.com"}}
//	if err := sess.Persist(contact); err != nil { ... }
//	if err := sess.Commit(ctx); err != nil { ... }
//
// # Errors
//
//   - [mapping.MappingError] - unregistered entity or association target type
//   - [TransportError] - the store rejected the batch; nothing changed, retry-safe
//   - [UnsupportedTransportError] - the transport cannot run atomic batches
//   - [ValidationError] - null or constraint violation, raised before submission
//   - [ResultMismatchError] - the store returned no identity for an insertion
//   - [ErrDetachedEntity] - the entity is not managed by this session
//   - [ErrUnmanagedAssociation] - new entity reachable without cascade persist
package odm
