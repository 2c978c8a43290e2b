package odm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/caster"
	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

// Session is the application-facing entry point: a UnitOfWork plus record
// loading through the transport.
type Session struct {
	*UnitOfWork
	finder batch.Finder
}

// NewSession creates a Session. The registry is sealed if it is not already.
func NewSession(registry *mapping.Registry, transport batch.Transport, config Config) *Session {
	if !registry.Sealed() {
		registry.Seal()
	}
	s := &Session{UnitOfWork: NewUnitOfWork(registry, transport, config)}
	if f, ok := transport.(batch.Finder); ok {
		s.finder = f
	}
	return s
}

// Flush commits pending changes. It is an alias of Commit.
func (s *Session) Flush(ctx context.Context) error {
	return s.Commit(ctx)
}

// Find returns the entity of type typ stored under rid. An entity already in
// the identity map is returned as is; otherwise the record is loaded,
// hydrated and registered. Linked records are resolved the same way, so each
// identity maps to a single instance. A failed load registers nothing.
func (s *Session) Find(ctx context.Context, typ string, rid record.RID) (mapping.Entity, error) {
	if e, ok := s.TryGetByID(rid); ok {
		return e, nil
	}
	meta, err := s.registry.Metadata(typ)
	if err != nil {
		return nil, err
	}
	if s.finder == nil {
		return nil, ErrFinderUnsupported
	}
	mark := s.nextHandle
	e, err := s.load(ctx, meta, rid)
	if err != nil {
		s.forgetLoadedSince(mark)
		return nil, err
	}
	return e, nil
}

// forgetLoadedSince drops the entities registered by a failed load, so a
// partly hydrated entity never stays MANAGED.
func (s *Session) forgetLoadedSince(mark Handle) {
	for h, e := range s.entries {
		if h > mark && e.state == StateManaged {
			s.forget(e)
		}
	}
}

func (s *Session) load(ctx context.Context, meta *mapping.ClassMetadata, rid record.RID) (mapping.Entity, error) {
	if e, ok := s.TryGetByID(rid); ok {
		return e, nil
	}
	doc, err := s.finder.Load(ctx, meta.Class, rid)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", meta.Type, rid, err)
	}
	if meta.New == nil {
		return nil, fmt.Errorf("%w: %s has no constructor", ErrInvalidEntity, meta.Type)
	}

	entity := meta.New()
	if err := s.hydrate(entity, meta, doc); err != nil {
		return nil, err
	}
	canonical, err := s.RegisterManaged(entity, rid, doc)
	if err != nil {
		return nil, err
	}
	if canonical != entity {
		return canonical, nil
	}

	// registered before links are resolved, so cycles end at the identity map
	e, _ := s.lookup(entity)
	for _, a := range meta.Links() {
		if a.Set == nil {
			continue
		}
		target, err := s.registry.Target(meta, a)
		if err != nil {
			return nil, err
		}
		name := a.StoredName()
		var targets []any
		var resolved []record.RID
		for _, linked := range caster.LinkRIDs(doc[name]) {
			t, err := s.load(ctx, target, linked)
			if errors.Is(err, record.ErrNotFound) {
				s.logger.Warn("dangling link", "type", meta.Type, "association", a.Name, "rid", linked)
				continue
			}
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
			resolved = append(resolved, linked)
		}
		a.Set(entity, targets)
		e.snapshot[name] = resolved
		e.baseline[name] = resolved
	}
	return entity, nil
}

func (s *Session) hydrate(entity mapping.Entity, meta *mapping.ClassMetadata, doc map[string]any) error {
	for _, f := range meta.Fields {
		raw, ok := doc[f.Name]
		if !ok || f.Set == nil {
			continue
		}
		v, err := caster.Uncast(f.Type, raw)
		if err != nil {
			return fmt.Errorf("hydrate %s.%s: %w", meta.Type, f.Name, err)
		}
		f.Set(entity, v)
	}
	for _, a := range meta.Associations {
		if a.IsLink() || a.Set == nil {
			continue
		}
		target, err := s.registry.Target(meta, a)
		if err != nil {
			return err
		}
		var raws []any
		switch v := doc[a.StoredName()].(type) {
		case []any:
			raws = v
		case nil:
		default:
			raws = []any{v}
		}
		var targets []any
		for _, raw := range raws {
			m, ok := raw.(map[string]any)
			if !ok {
				if d, isDoc := raw.(record.Document); isDoc {
					m = d
				} else {
					continue
				}
			}
			if target.New == nil {
				return fmt.Errorf("%w: %s has no constructor", ErrInvalidEntity, target.Type)
			}
			t := target.New()
			if err := s.hydrate(t, target, m); err != nil {
				return err
			}
			targets = append(targets, t)
		}
		a.Set(entity, targets)
	}
	return nil
}
