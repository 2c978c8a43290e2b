package odm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/caster"
	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

// Scheduled is one entity handed to the persister.
type Scheduled struct {
	Entity  mapping.Entity
	Meta    *mapping.ClassMetadata
	RID     record.RID
	Changes *ChangeSet
}

// Work is the consolidated, ordered set of operations of one commit.
type Work struct {
	Insertions []*Scheduled
	Updates    []*Scheduled
	Removals   []*Scheduled
}

// Empty reports whether there is nothing to submit.
func (w *Work) Empty() bool {
	return len(w.Insertions) == 0 && len(w.Updates) == 0 && len(w.Removals) == 0
}

// Report is the outcome of a submitted batch.
type Report struct {
	// Assigned holds the identity returned for each insertion, by batch position.
	// Positions without a result keep the zero RID.
	Assigned []record.RID

	// Missing lists insertion positions the store returned no identity for.
	Missing []int

	// Statements is the number of statements submitted.
	Statements int
}

// Persister turns Work into one atomic batch and writes generated identities
// back onto the inserted entities.
type Persister struct {
	registry  *mapping.Registry
	transport batch.Transport
	logger    *slog.Logger
}

// NewPersister creates a Persister.
func NewPersister(registry *mapping.Registry, transport batch.Transport, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		registry:  registry,
		transport: transport,
		logger:    logger,
	}
}

// Execute builds and submits the batch for w. On failure no entity is
// modified and the error is a *TransportError or *UnsupportedTransportError.
func (p *Persister) Execute(ctx context.Context, w *Work) (*Report, error) {
	if w.Empty() {
		return &Report{}, nil
	}
	if !batch.SupportsAtomicBatch(p.transport) {
		return nil, &UnsupportedTransportError{Transport: fmt.Sprintf("%T", p.transport)}
	}

	b, err := p.Build(w)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("submitting batch",
		"statements", b.Len(),
		"insertions", b.Insertions(),
	)

	results, err := p.transport.Submit(ctx, b)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	report := &Report{
		Assigned:   make([]record.RID, len(w.Insertions)),
		Statements: b.Len(),
	}
	for pos, ins := range w.Insertions {
		var rid record.RID
		if pos < len(results) && results[pos] != nil {
			rid = results[pos].RID()
		}
		if rid.IsZero() {
			report.Missing = append(report.Missing, pos)
			continue
		}
		ins.Meta.SetIdentity(ins.Entity, rid)
		report.Assigned[pos] = rid
	}
	return report, nil
}

// positions locates insertions of the batch being built.
type positions map[mapping.Entity]batch.Placeholder

func (p positions) Position(entity any) (batch.Placeholder, bool) {
	e, ok := entity.(mapping.Entity)
	if !ok {
		return 0, false
	}
	pos, ok := p[e]
	return pos, ok
}

// Build assembles the batch for w without submitting it.
//
// Insertions receive positions in order. Links to records inserted by the
// same batch are written as placeholders; a link to the inserting record
// itself or to a later insertion is moved to a trailing update so every
// placeholder is bound before it is read.
func (p *Persister) Build(w *Work) (*batch.Batch, error) {
	loc := make(positions, len(w.Insertions))
	for i, ins := range w.Insertions {
		loc[ins.Entity] = batch.Placeholder(i)
	}

	type deferred struct {
		class  string
		pos    batch.Placeholder
		fields []batch.Assignment
	}
	var later []deferred

	b := &batch.Batch{}
	for i, ins := range w.Insertions {
		now, forward, err := p.assignments(ins, loc, i)
		if err != nil {
			return nil, err
		}
		pos := b.AddInsert(ins.Meta.Class, now)
		if len(forward) > 0 {
			later = append(later, deferred{class: ins.Meta.Class, pos: pos, fields: forward})
		}
	}
	for _, d := range later {
		b.AddUpdate(d.class, batch.ByPlaceholder(d.pos), d.fields)
	}
	for _, upd := range w.Updates {
		fields, _, err := p.assignments(upd, loc, -1)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		b.AddUpdate(upd.Meta.Class, batch.ByRID(upd.RID), fields)
	}
	for _, rem := range w.Removals {
		b.AddDelete(rem.Meta.Class, rem.RID)
	}
	return b, nil
}

// assignments casts the changes of s. For an insertion at position self,
// links resolving to a placeholder at or after self are returned separately.
func (p *Persister) assignments(s *Scheduled, loc positions, self int) (now, forward []batch.Assignment, err error) {
	cs := s.Changes
	for _, f := range s.Meta.Fields {
		if ch, ok := cs.Fields[f.Name]; ok {
			now = append(now, batch.Assignment{Name: f.Name, Value: ch.New})
		}
	}
	for _, a := range s.Meta.Associations {
		name := a.StoredName()
		if a.Embedded {
			if ch, ok := cs.Fields[name]; ok {
				now = append(now, batch.Assignment{Name: name, Value: ch.New})
			}
			continue
		}
		ch, ok := cs.Associations[name]
		if !ok {
			continue
		}
		target, err := p.registry.Target(s.Meta, a)
		if err != nil {
			return nil, nil, err
		}
		refs := make([]any, 0, len(ch.New))
		isForward := false
		for _, t := range ch.New {
			ref, err := caster.CastLink(t, target, loc)
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%s: %w", s.Meta.Type, a.Name, err)
			}
			if ph, ok := ref.(batch.Placeholder); ok && self >= 0 && int(ph) >= self {
				isForward = true
			}
			refs = append(refs, ref)
		}

		var value any
		if a.Cardinality == mapping.Many {
			value = refs
		} else if len(refs) > 0 {
			value = refs[0]
		}
		assign := batch.Assignment{Name: name, Value: value}
		if isForward {
			forward = append(forward, assign)
		} else {
			now = append(now, assign)
		}
	}
	return now, forward, nil
}
