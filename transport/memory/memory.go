// Package memory provides an in-process document store implementing the batch transport.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/internal/cluster"
	"github.com/jacentio/lattice/record"
)

// ErrClassMismatch is returned when a statement addresses a record through
// the wrong storage class.
var ErrClassMismatch = errors.New("lattice: record belongs to another class")

// Store keeps records in memory and applies batches atomically: statements
// run against a copy of the data that replaces the live data only when every
// statement succeeded.
type Store struct {
	mu       sync.Mutex
	records  map[record.RID]record.Document
	seq      *cluster.Sequence
	atomic   bool
	failNext error
	submits  int
	last     *batch.Batch
}

// Option configures a Store.
type Option func(*Store)

// WithClusters distributes classes over n clusters.
func WithClusters(n int) Option {
	return func(s *Store) {
		s.seq = cluster.NewSequence(n)
	}
}

// WithoutAtomicBatch makes the store report that it cannot run atomic batches.
func WithoutAtomicBatch() Option {
	return func(s *Store) {
		s.atomic = false
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[record.RID]record.Document),
		seq:     cluster.NewSequence(1),
		atomic:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupportsAtomicBatch implements batch.AtomicScripter.
func (s *Store) SupportsAtomicBatch() bool {
	return s.atomic
}

// FailNext makes the next Submit fail with err without applying anything.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Submits returns the number of Submit calls received.
func (s *Store) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// LastBatch returns the most recently submitted batch.
func (s *Store) LastBatch() *batch.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Put stores a document directly, bypassing batches. It returns the new identity.
func (s *Store) Put(class string, doc record.Document) record.RID {
	s.mu.Lock()
	defer s.mu.Unlock()
	rid := s.seq.Next(class)
	stored := doc.Fields()
	stored[record.KeyRID] = rid
	stored[record.KeyClass] = class
	stored[record.KeyVersion] = int64(1)
	s.records[rid] = stored
	return rid
}

// Submit implements batch.Transport.
func (s *Store) Submit(ctx context.Context, b *batch.Batch) ([]record.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submits++
	s.last = b
	if err := s.failNext; err != nil {
		s.failNext = nil
		return nil, err
	}

	working := make(map[record.RID]record.Document, len(s.records))
	for rid, doc := range s.records {
		working[rid] = doc
	}
	seq := s.seq.Clone()
	resolver := batch.NewResolver()
	results := make([]record.Document, b.Insertions())

	for i, st := range b.Statements {
		fields, err := resolveFields(resolver, st.Fields)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		switch st.Kind {
		case batch.Insert:
			rid := seq.Next(st.Class)
			doc := fields
			doc[record.KeyRID] = rid
			doc[record.KeyClass] = st.Class
			doc[record.KeyVersion] = int64(1)
			working[rid] = doc
			resolver.Bind(batch.Placeholder(st.Position), rid)
			results[st.Position] = doc

		case batch.Update:
			rid, err := resolver.Target(st.Target)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			current, err := lookup(working, st, rid)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			doc := current.Clone()
			for k, v := range fields {
				doc[k] = v
			}
			version, _ := doc[record.KeyVersion].(int64)
			doc[record.KeyVersion] = version + 1
			working[rid] = doc

		case batch.Delete:
			if _, err := lookup(working, st, st.Target.RID); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			delete(working, st.Target.RID)
		}
	}

	s.records = working
	s.seq = seq
	out := make([]record.Document, len(results))
	for i, doc := range results {
		out[i] = s.records[doc.RID()].Clone()
	}
	return out, nil
}

func lookup(records map[record.RID]record.Document, st batch.Statement, rid record.RID) (record.Document, error) {
	doc, ok := records[rid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	// placeholder targets were created by this batch under st.Class
	if doc.Class() != st.Class {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrClassMismatch, rid, doc.Class(), st.Class)
	}
	return doc, nil
}

func resolveFields(r *batch.Resolver, fields []batch.Assignment) (record.Document, error) {
	doc := make(record.Document, len(fields))
	for _, f := range fields {
		v, err := r.Value(f.Value)
		if err != nil {
			return nil, err
		}
		doc[f.Name] = v
	}
	return doc, nil
}

// Load implements batch.Finder.
func (s *Store) Load(ctx context.Context, class string, rid record.RID) (record.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.records[rid]
	if !ok || (class != "" && doc.Class() != class) {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	return doc.Clone(), nil
}
