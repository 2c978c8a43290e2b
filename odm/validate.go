package odm

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// validate checks nullability and field constraints of everything about to
// be written. Insertions are checked in full; updates only on changed fields.
func (u *UnitOfWork) validate(w *Work) error {
	for _, s := range w.Insertions {
		if err := u.validateScheduled(s, true); err != nil {
			return err
		}
	}
	for _, s := range w.Updates {
		if err := u.validateScheduled(s, false); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) validateScheduled(s *Scheduled, full bool) error {
	values, _, err := u.capture(s.Entity, s.Meta)
	if err != nil {
		return err
	}
	doc := make(map[string]any, len(values))
	for k, v := range values {
		doc[k] = v
	}

	for _, f := range s.Meta.Fields {
		if !full && !s.Changes.Has(f.Name) {
			continue
		}
		v := values[f.Name]
		if v == nil {
			if !f.Nullable {
				return &ValidationError{Type: s.Meta.Type, Field: f.Name}
			}
			continue
		}
		for _, src := range f.Constraints {
			prog, ok := u.registry.Constraint(s.Meta.Type, f.Name, src)
			if !ok {
				continue
			}
			out, err := expr.Run(prog, map[string]any{"value": v, "entity": doc})
			if err != nil {
				return fmt.Errorf("evaluate constraint %s.%s: %w", s.Meta.Type, f.Name, err)
			}
			if ok, _ := out.(bool); !ok {
				return &ValidationError{Type: s.Meta.Type, Field: f.Name, Constraint: src, Value: v}
			}
		}
	}
	return nil
}
