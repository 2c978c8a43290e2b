package odm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/caster"
	"github.com/jacentio/lattice/commitorder"
	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

// State is the lifecycle state of an entity within a session.
type State int

const (
	StateNew State = iota
	StateManaged
	StateRemoved
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateManaged:
		return "MANAGED"
	case StateRemoved:
		return "REMOVED"
	case StateDetached:
		return "DETACHED"
	}
	return "UNKNOWN"
}

// Handle is a session-scoped entity handle assigned at first registration.
type Handle uint64

type entry struct {
	handle Handle
	entity mapping.Entity
	meta   *mapping.ClassMetadata
	state  State
	rid    record.RID

	// snapshot holds the last persisted wire values by stored name; link
	// associations are kept as identity lists.
	snapshot map[string]any

	// baseline is the state seen by the last ComputeChangeSets call. It
	// starts as a copy of snapshot.
	baseline map[string]any
}

func (e *entry) setSnapshot(snap map[string]any) {
	e.snapshot = snap
	e.baseline = make(map[string]any, len(snap))
	for k, v := range snap {
		e.baseline[k] = v
	}
}

// UnitOfWork tracks entity lifecycle and the identity map of one session and
// commits pending changes as a single atomic batch.
//
// A UnitOfWork is not safe for concurrent use.
type UnitOfWork struct {
	id        string
	registry  *mapping.Registry
	persister *Persister
	config    Config
	logger    *slog.Logger
	listeners []Listener

	nextHandle  Handle
	handles     map[mapping.Entity]Handle
	entries     map[Handle]*entry
	identityMap map[record.RID]Handle

	insertions []Handle
	removals   []Handle
	changeSets map[Handle]*ChangeSet
}

// NewUnitOfWork creates a UnitOfWork committing through transport.
func NewUnitOfWork(registry *mapping.Registry, transport batch.Transport, config Config) *UnitOfWork {
	config.validate()
	id := uuid.NewString()
	logger := config.Logger.With("session", id)
	u := &UnitOfWork{
		id:        id,
		registry:  registry,
		persister: NewPersister(registry, transport, logger),
		config:    config,
		logger:    logger,
		listeners: append([]Listener(nil), config.Listeners...),
	}
	u.reset()
	return u
}

func (u *UnitOfWork) reset() {
	u.handles = make(map[mapping.Entity]Handle)
	u.entries = make(map[Handle]*entry)
	u.identityMap = make(map[record.RID]Handle)
	u.insertions = nil
	u.removals = nil
	u.changeSets = make(map[Handle]*ChangeSet)
}

// ID returns the session identifier used in logs.
func (u *UnitOfWork) ID() string {
	return u.id
}

// Registry returns the metadata registry.
func (u *UnitOfWork) Registry() *mapping.Registry {
	return u.registry
}

func (u *UnitOfWork) metadata(entity mapping.Entity) (*mapping.ClassMetadata, error) {
	if !mapping.IsPointer(entity) {
		return nil, fmt.Errorf("%w: %T", ErrInvalidEntity, entity)
	}
	return u.registry.MetadataFor(entity)
}

func (u *UnitOfWork) lookup(entity mapping.Entity) (*entry, bool) {
	if !mapping.IsPointer(entity) {
		return nil, false
	}
	h, ok := u.handles[entity]
	if !ok {
		return nil, false
	}
	return u.entries[h], true
}

func (u *UnitOfWork) track(entity mapping.Entity, meta *mapping.ClassMetadata, state State) *entry {
	u.nextHandle++
	e := &entry{
		handle: u.nextHandle,
		entity: entity,
		meta:   meta,
		state:  state,
	}
	u.handles[entity] = e.handle
	u.entries[e.handle] = e
	return e
}

func (u *UnitOfWork) forget(e *entry) {
	delete(u.handles, e.entity)
	delete(u.entries, e.handle)
	delete(u.changeSets, e.handle)
	if !e.rid.IsZero() && u.identityMap[e.rid] == e.handle {
		delete(u.identityMap, e.rid)
	}
}

// StateOf returns the lifecycle state of entity. Untracked entities are NEW
// unless they carry an identity, in which case they are DETACHED.
func (u *UnitOfWork) StateOf(entity mapping.Entity) State {
	if e, ok := u.lookup(entity); ok {
		return e.state
	}
	meta, err := u.metadata(entity)
	if err != nil {
		return StateNew
	}
	if !meta.Identity(entity).IsZero() {
		return StateDetached
	}
	return StateNew
}

// Contains reports whether entity is managed or scheduled by this session.
func (u *UnitOfWork) Contains(entity mapping.Entity) bool {
	e, ok := u.lookup(entity)
	return ok && e.state != StateDetached
}

// HandleOf returns the session handle of a tracked entity.
func (u *UnitOfWork) HandleOf(entity mapping.Entity) (Handle, bool) {
	e, ok := u.lookup(entity)
	if !ok {
		return 0, false
	}
	return e.handle, true
}

// TryGetByID returns the managed entity registered under rid.
func (u *UnitOfWork) TryGetByID(rid record.RID) (mapping.Entity, bool) {
	h, ok := u.identityMap[rid]
	if !ok {
		return nil, false
	}
	return u.entries[h].entity, true
}

// Size returns the number of entries in the identity map.
func (u *UnitOfWork) Size() int {
	return len(u.identityMap)
}

// RegisterManaged adds a loaded entity to the identity map and returns the
// canonical instance for rid: if rid is already registered, the previously
// registered instance is returned and entity is ignored.
//
// snapshot is the stored document the entity was hydrated from; it becomes
// the baseline for change detection.
func (u *UnitOfWork) RegisterManaged(entity mapping.Entity, rid record.RID, snapshot record.Document) (mapping.Entity, error) {
	if rid.IsZero() {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidEntity)
	}
	if h, ok := u.identityMap[rid]; ok {
		return u.entries[h].entity, nil
	}
	meta, err := u.metadata(entity)
	if err != nil {
		return nil, err
	}
	if e, ok := u.lookup(entity); ok && e.rid != rid {
		return nil, ErrIdentityChanged
	}
	current := meta.Identity(entity)
	if !current.IsZero() && current != rid {
		return nil, ErrIdentityChanged
	}
	if current.IsZero() {
		meta.SetIdentity(entity, rid)
	}

	e, ok := u.lookup(entity)
	if !ok {
		e = u.track(entity, meta, StateManaged)
	}
	e.state = StateManaged
	e.rid = rid
	e.setSnapshot(u.snapshotFromDocument(meta, snapshot))
	u.identityMap[rid] = e.handle
	return entity, nil
}

// Persist schedules a NEW entity for insertion and cascades to associated
// entities mapped with CascadePersist. A REMOVED entity becomes MANAGED again.
func (u *UnitOfWork) Persist(entity mapping.Entity) error {
	return u.persist(entity, make(map[mapping.Entity]struct{}))
}

func (u *UnitOfWork) persist(entity mapping.Entity, visited map[mapping.Entity]struct{}) error {
	if entity == nil {
		return ErrInvalidEntity
	}
	meta, err := u.metadata(entity)
	if err != nil {
		return err
	}
	if _, seen := visited[entity]; seen {
		return nil
	}
	visited[entity] = struct{}{}

	switch u.StateOf(entity) {
	case StateNew:
		if _, ok := u.lookup(entity); !ok {
			u.dispatch(Event{Type: PrePersist, Entity: entity})
			e := u.track(entity, meta, StateNew)
			u.insertions = append(u.insertions, e.handle)
		}
	case StateRemoved:
		e, _ := u.lookup(entity)
		e.state = StateManaged
		u.removals = removeHandle(u.removals, e.handle)
	case StateDetached:
		return fmt.Errorf("%w: %s", ErrDetachedEntity, meta.Type)
	}

	return u.cascade(entity, meta, mapping.CascadePersist, visited, u.persist)
}

// Remove schedules a MANAGED entity for removal and cascades to associated
// entities mapped with CascadeRemove. Removing a NEW entity cancels its
// insertion.
func (u *UnitOfWork) Remove(entity mapping.Entity) error {
	return u.remove(entity, make(map[mapping.Entity]struct{}))
}

func (u *UnitOfWork) remove(entity mapping.Entity, visited map[mapping.Entity]struct{}) error {
	if entity == nil {
		return ErrInvalidEntity
	}
	meta, err := u.metadata(entity)
	if err != nil {
		return err
	}
	if _, seen := visited[entity]; seen {
		return nil
	}
	visited[entity] = struct{}{}

	switch u.StateOf(entity) {
	case StateNew:
		if e, ok := u.lookup(entity); ok {
			u.insertions = removeHandle(u.insertions, e.handle)
			u.forget(e)
		}
	case StateManaged:
		e, _ := u.lookup(entity)
		u.dispatch(Event{Type: PreRemove, Entity: entity, RID: e.rid})
		e.state = StateRemoved
		u.removals = append(u.removals, e.handle)
	case StateDetached:
		return fmt.Errorf("%w: %s", ErrDetachedEntity, meta.Type)
	}

	return u.cascade(entity, meta, mapping.CascadeRemove, visited, u.remove)
}

type cascadeFunc func(mapping.Entity, map[mapping.Entity]struct{}) error

func (u *UnitOfWork) cascade(entity mapping.Entity, meta *mapping.ClassMetadata, op mapping.Cascade, visited map[mapping.Entity]struct{}, fn cascadeFunc) error {
	for _, a := range meta.Associations {
		if a.Embedded || !a.Cascade.Has(op) || a.Get == nil {
			continue
		}
		if _, err := u.registry.Target(meta, a); err != nil {
			return err
		}
		for _, t := range a.Get(entity) {
			if t == nil {
				continue
			}
			te, ok := t.(mapping.Entity)
			if !ok {
				return fmt.Errorf("%w: %s.%s holds %T", ErrInvalidEntity, meta.Type, a.Name, t)
			}
			// detached targets are linked by identity only
			if u.StateOf(te) == StateDetached {
				continue
			}
			if err := fn(te, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// Detach stops tracking entity. Pending insertions and removals of the
// entity are cancelled.
func (u *UnitOfWork) Detach(entity mapping.Entity) {
	e, ok := u.lookup(entity)
	if !ok {
		return
	}
	u.insertions = removeHandle(u.insertions, e.handle)
	u.removals = removeHandle(u.removals, e.handle)
	u.forget(e)
}

// Clear detaches every entity.
func (u *UnitOfWork) Clear() {
	u.reset()
}

// ScheduledInsertions returns the entities scheduled for insertion.
func (u *UnitOfWork) ScheduledInsertions() []mapping.Entity {
	return u.entities(u.insertions)
}

// ScheduledRemovals returns the entities scheduled for removal.
func (u *UnitOfWork) ScheduledRemovals() []mapping.Entity {
	return u.entities(u.removals)
}

func (u *UnitOfWork) entities(hs []Handle) []mapping.Entity {
	out := make([]mapping.Entity, 0, len(hs))
	for _, h := range hs {
		out = append(out, u.entries[h].entity)
	}
	return out
}

// ChangeSet returns the change set computed for entity by the last
// ComputeChangeSets call, or nil.
func (u *UnitOfWork) ChangeSet(entity mapping.Entity) *ChangeSet {
	e, ok := u.lookup(entity)
	if !ok {
		return nil
	}
	return u.changeSets[e.handle]
}

// ComputeChangeSets diffs every MANAGED entity and every scheduled insertion
// against the state seen by the previous call, or against the last persisted
// state if there was none. Entities without differences get no change set.
//
// Each call advances the diff baseline, so a second call without mutations
// yields no change sets. Commit always writes every change made since the
// last persisted state, whatever was computed in between.
func (u *UnitOfWork) ComputeChangeSets() error {
	sets, err := u.changes(func(e *entry) map[string]any { return e.baseline })
	if err != nil {
		return err
	}
	for h := range sets {
		e := u.entries[h]
		current, err := u.currentState(e)
		if err != nil {
			return err
		}
		e.baseline = current
	}
	u.changeSets = sets
	return nil
}

// pendingChanges diffs every MANAGED entity and every scheduled insertion
// against its last persisted state.
func (u *UnitOfWork) pendingChanges() (map[Handle]*ChangeSet, error) {
	return u.changes(func(e *entry) map[string]any { return e.snapshot })
}

func (u *UnitOfWork) changes(base func(*entry) map[string]any) (map[Handle]*ChangeSet, error) {
	sets := make(map[Handle]*ChangeSet)
	for _, h := range u.sortedHandles() {
		e := u.entries[h]
		switch e.state {
		case StateManaged:
			if u.removalScheduled(h) {
				continue
			}
			if current := e.meta.Identity(e.entity); current != e.rid {
				return nil, fmt.Errorf("%w: %s %s", ErrIdentityChanged, e.meta.Type, e.rid)
			}
		case StateNew:
		default:
			continue
		}
		cs, err := u.diff(e, base(e))
		if err != nil {
			return nil, err
		}
		if !cs.Empty() {
			sets[h] = cs
		}
	}
	return sets, nil
}

func (u *UnitOfWork) removalScheduled(h Handle) bool {
	for _, r := range u.removals {
		if r == h {
			return true
		}
	}
	return false
}

func (u *UnitOfWork) sortedHandles() []Handle {
	hs := make([]Handle, 0, len(u.entries))
	for h := range u.entries {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// capture reads the current wire values of entity: scalar and embedded
// properties cast by field type, and the raw targets of link associations.
func (u *UnitOfWork) capture(entity mapping.Entity, meta *mapping.ClassMetadata) (map[string]any, map[string][]any, error) {
	values := make(map[string]any, len(meta.Fields))
	for _, f := range meta.Fields {
		if f.Get == nil {
			continue
		}
		v, err := caster.Cast(f.Type, f.Get(entity))
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", meta.Type, f.Name, err)
		}
		values[f.Name] = v
	}

	links := make(map[string][]any)
	for _, a := range meta.Associations {
		if a.Get == nil {
			continue
		}
		target, err := u.registry.Target(meta, a)
		if err != nil {
			return nil, nil, err
		}
		var targets []any
		for _, t := range a.Get(entity) {
			if t != nil {
				targets = append(targets, t)
			}
		}
		if !a.Embedded {
			links[a.StoredName()] = targets
			continue
		}
		v, err := u.castEmbedded(a, target, targets)
		if err != nil {
			return nil, nil, err
		}
		values[a.StoredName()] = v
	}
	return values, links, nil
}

func (u *UnitOfWork) castEmbedded(a mapping.AssociationMapping, target *mapping.ClassMetadata, targets []any) (any, error) {
	docs := make([]any, 0, len(targets))
	for _, t := range targets {
		te, ok := t.(mapping.Entity)
		if !ok {
			return nil, fmt.Errorf("%w: embedded %s holds %T", ErrInvalidEntity, a.Name, t)
		}
		values, links, err := u.capture(te, target)
		if err != nil {
			return nil, err
		}
		doc := map[string]any{record.KeyClass: target.Class}
		for k, v := range values {
			if v != nil {
				doc[k] = v
			}
		}
		for name, lt := range links {
			rids := u.identities(target, name, lt)
			if len(rids) > 0 {
				doc[name] = ridsToAny(rids)
			}
		}
		docs = append(docs, doc)
	}
	if a.Cardinality == mapping.Many {
		return docs, nil
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// identities returns the identity of each link target; unpersisted targets
// yield the zero RID.
func (u *UnitOfWork) identities(owner *mapping.ClassMetadata, stored string, targets []any) []record.RID {
	rids := make([]record.RID, 0, len(targets))
	var target *mapping.ClassMetadata
	for _, a := range owner.Associations {
		if a.StoredName() == stored {
			target, _ = u.registry.Target(owner, a)
		}
	}
	for _, t := range targets {
		te, ok := t.(mapping.Entity)
		if !ok {
			rids = append(rids, "")
			continue
		}
		if e, ok := u.lookup(te); ok {
			rids = append(rids, e.rid)
			continue
		}
		if target != nil {
			rids = append(rids, target.Identity(te))
		} else {
			rids = append(rids, "")
		}
	}
	return rids
}

func (u *UnitOfWork) diff(e *entry, base map[string]any) (*ChangeSet, error) {
	values, links, err := u.capture(e.entity, e.meta)
	if err != nil {
		return nil, err
	}
	cs := newChangeSet()
	for name, v := range values {
		old := base[name]
		if !valuesEqual(old, v) {
			cs.Fields[name] = FieldChange{Old: old, New: v}
		}
	}
	for name, targets := range links {
		old, _ := base[name].([]record.RID)
		current := u.identities(e.meta, name, targets)
		if ridsEqual(old, current) {
			continue
		}
		ch := &AssociationChange{Old: old, New: targets}
		oldSet := make(map[record.RID]struct{}, len(old))
		for _, r := range old {
			oldSet[r] = struct{}{}
		}
		curSet := make(map[record.RID]struct{}, len(current))
		for i, r := range current {
			curSet[r] = struct{}{}
			if _, ok := oldSet[r]; !ok || r.IsZero() {
				ch.Added = append(ch.Added, targets[i])
			}
		}
		for _, r := range old {
			if _, ok := curSet[r]; !ok {
				ch.Removed = append(ch.Removed, r)
			}
		}
		cs.Associations[name] = ch
	}
	return cs, nil
}

func (u *UnitOfWork) takeSnapshot(e *entry) error {
	snap, err := u.currentState(e)
	if err != nil {
		return err
	}
	e.setSnapshot(snap)
	return nil
}

// currentState captures the entity in snapshot form.
func (u *UnitOfWork) currentState(e *entry) (map[string]any, error) {
	values, links, err := u.capture(e.entity, e.meta)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]any, len(values)+len(links))
	for k, v := range values {
		snap[k] = v
	}
	for name, targets := range links {
		snap[name] = u.identities(e.meta, name, targets)
	}
	return snap, nil
}

// snapshotFromDocument normalises a stored document into snapshot form.
func (u *UnitOfWork) snapshotFromDocument(meta *mapping.ClassMetadata, doc record.Document) map[string]any {
	snap := make(map[string]any, len(meta.Fields)+len(meta.Associations))
	for _, f := range meta.Fields {
		snap[f.Name] = normalize(f.Type, doc[f.Name])
	}
	for _, a := range meta.Associations {
		name := a.StoredName()
		if a.IsLink() {
			snap[name] = caster.LinkRIDs(doc[name])
			continue
		}
		target, err := u.registry.Target(meta, a)
		if err != nil {
			continue
		}
		snap[name] = u.normalizeEmbedded(target, a.Cardinality, doc[name])
	}
	return snap
}

func (u *UnitOfWork) normalizeEmbedded(target *mapping.ClassMetadata, card mapping.Cardinality, v any) any {
	one := func(raw any) any {
		m, ok := raw.(map[string]any)
		if !ok {
			if d, isDoc := raw.(record.Document); isDoc {
				m = d
			} else {
				return raw
			}
		}
		out := map[string]any{record.KeyClass: target.Class}
		for _, f := range target.Fields {
			if n := normalize(f.Type, m[f.Name]); n != nil {
				out[f.Name] = n
			}
		}
		for _, a := range target.Associations {
			name := a.StoredName()
			if a.IsLink() {
				if rids := caster.LinkRIDs(m[name]); len(rids) > 0 {
					out[name] = ridsToAny(rids)
				}
				continue
			}
			nested, err := u.registry.Target(target, a)
			if err != nil {
				continue
			}
			if n := u.normalizeEmbedded(nested, a.Cardinality, m[name]); n != nil {
				out[name] = n
			}
		}
		return out
	}
	if v == nil {
		if card == mapping.Many {
			return []any{}
		}
		return nil
	}
	if card == mapping.Many {
		list, _ := v.([]any)
		out := make([]any, 0, len(list))
		for _, raw := range list {
			out = append(out, one(raw))
		}
		return out
	}
	return one(v)
}

func normalize(t mapping.FieldType, v any) any {
	g, err := caster.Uncast(t, v)
	if err != nil {
		return v
	}
	w, err := caster.Cast(t, g)
	if err != nil {
		return v
	}
	return w
}

func ridsToAny(rids []record.RID) []any {
	out := make([]any, len(rids))
	for i, r := range rids {
		out[i] = r
	}
	return out
}

// resolveCascades persists NEW entities reachable through cascade-persist
// links from scheduled or managed entities. A NEW entity reachable through a
// link without cascade persist is an error.
func (u *UnitOfWork) resolveCascades() error {
	visited := make(map[mapping.Entity]struct{})
	queue := u.sortedHandles()
	for i := 0; i < len(queue); i++ {
		e, ok := u.entries[queue[i]]
		if !ok || (e.state != StateNew && e.state != StateManaged) {
			continue
		}
		for _, a := range e.meta.Associations {
			if a.Embedded || a.Get == nil {
				continue
			}
			for _, t := range a.Get(e.entity) {
				te, ok := t.(mapping.Entity)
				if !ok || te == nil {
					continue
				}
				if _, tracked := u.lookup(te); tracked || u.StateOf(te) != StateNew {
					continue
				}
				if !a.Cascade.Has(mapping.CascadePersist) {
					return fmt.Errorf("%w: %s.%s", ErrUnmanagedAssociation, e.meta.Type, a.Name)
				}
				if err := u.persist(te, visited); err != nil {
					return err
				}
				queue = u.appendNew(queue)
			}
		}
	}
	return nil
}

func (u *UnitOfWork) appendNew(queue []Handle) []Handle {
	seen := make(map[Handle]struct{}, len(queue))
	for _, h := range queue {
		seen[h] = struct{}{}
	}
	for _, h := range u.sortedHandles() {
		if _, ok := seen[h]; !ok {
			queue = append(queue, h)
		}
	}
	return queue
}

// commitOrder ranks the mapped types of the pending work so that the targets
// of cascade-persist links come first.
func (u *UnitOfWork) commitOrder(changes map[Handle]*ChangeSet) (map[string]int, error) {
	calc := commitorder.New[string]()
	var pending []*entry
	for _, h := range u.insertions {
		pending = append(pending, u.entries[h])
	}
	for h := range changes {
		pending = append(pending, u.entries[h])
	}
	for _, h := range u.removals {
		pending = append(pending, u.entries[h])
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].handle < pending[j].handle })

	seen := make(map[string]struct{})
	for _, e := range pending {
		if _, ok := seen[e.meta.Type]; ok {
			continue
		}
		seen[e.meta.Type] = struct{}{}
		calc.AddClass(e.meta.Type)
		for _, a := range e.meta.Associations {
			target, err := u.registry.Target(e.meta, a)
			if err != nil {
				return nil, err
			}
			if a.Embedded || !a.Cascade.Has(mapping.CascadePersist) || target.Type == e.meta.Type {
				continue
			}
			calc.AddDependency(e.meta.Type, target.Type)
		}
	}

	order := calc.CommitOrder()
	if cycles := calc.Cycles(); len(cycles) > 0 {
		if u.config.RejectCycles {
			return nil, fmt.Errorf("%w: %s -> %s", ErrCommitOrderCycle, cycles[0].From, cycles[0].To)
		}
		for _, c := range cycles {
			u.logger.Warn("commit order cycle truncated", "from", c.From, "to", c.To)
		}
	}

	rank := make(map[string]int, len(order))
	for i, t := range order {
		rank[t] = i
	}
	return rank, nil
}

func (u *UnitOfWork) work(rank map[string]int, changes map[Handle]*ChangeSet) *Work {
	w := &Work{}
	for _, h := range u.insertions {
		e := u.entries[h]
		cs := changes[h]
		if cs == nil {
			cs = newChangeSet()
		}
		w.Insertions = append(w.Insertions, &Scheduled{Entity: e.entity, Meta: e.meta, Changes: cs})
	}
	for _, h := range u.sortedHandles() {
		e := u.entries[h]
		cs, ok := changes[h]
		if !ok || e.state != StateManaged {
			continue
		}
		w.Updates = append(w.Updates, &Scheduled{Entity: e.entity, Meta: e.meta, RID: e.rid, Changes: cs})
	}
	for _, h := range u.removals {
		e := u.entries[h]
		w.Removals = append(w.Removals, &Scheduled{Entity: e.entity, Meta: e.meta, RID: e.rid})
	}

	sort.SliceStable(w.Insertions, func(i, j int) bool {
		return rank[w.Insertions[i].Meta.Type] < rank[w.Insertions[j].Meta.Type]
	})
	sort.SliceStable(w.Updates, func(i, j int) bool {
		return rank[w.Updates[i].Meta.Type] < rank[w.Updates[j].Meta.Type]
	})
	sort.SliceStable(w.Removals, func(i, j int) bool {
		return rank[w.Removals[i].Meta.Type] > rank[w.Removals[j].Meta.Type]
	})
	return w
}

// Commit writes all pending insertions, updates and removals as one atomic
// batch. When the batch fails nothing is changed in the session and the
// commit can be retried.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	start := time.Now()
	statements := 0
	result := resultFailure
	defer func() {
		u.config.Metrics.observeCommit(result, statements, time.Since(start))
	}()

	if err := u.resolveCascades(); err != nil {
		return err
	}
	changes, err := u.pendingChanges()
	if err != nil {
		return err
	}
	if len(u.insertions) == 0 && len(u.removals) == 0 && len(changes) == 0 {
		result = resultNoop
		u.logger.Debug("nothing to commit")
		return nil
	}

	rank, err := u.commitOrder(changes)
	if err != nil {
		return err
	}
	w := u.work(rank, changes)
	if err := u.validate(w); err != nil {
		return err
	}

	u.dispatch(Event{Type: PreCommit})
	u.logger.Debug("committing",
		"insertions", len(w.Insertions),
		"updates", len(w.Updates),
		"removals", len(w.Removals),
	)

	report, err := u.persister.Execute(ctx, w)
	if err != nil {
		u.logger.Error("commit failed", "error", err)
		return err
	}
	statements = report.Statements

	if err := u.reconcile(w, report); err != nil {
		return err
	}
	result = resultSuccess
	u.logger.Info("commit completed",
		"statements", report.Statements,
		"insertions", len(w.Insertions),
		"updates", len(w.Updates),
		"removals", len(w.Removals),
		"elapsed", time.Since(start),
	)
	return nil
}

// reconcile applies a successful batch to the session.
func (u *UnitOfWork) reconcile(w *Work, report *Report) error {
	var inserted []*Scheduled
	for pos, ins := range w.Insertions {
		e, _ := u.lookup(ins.Entity)
		rid := report.Assigned[pos]
		if rid.IsZero() {
			e.state = StateDetached
			continue
		}
		e.rid = rid
		e.state = StateManaged
		u.identityMap[rid] = e.handle
		inserted = append(inserted, ins)
	}

	var errs []error
	for _, ins := range inserted {
		e, _ := u.lookup(ins.Entity)
		if err := u.takeSnapshot(e); err != nil {
			errs = append(errs, err)
		}
		u.dispatch(Event{Type: PostInsert, Entity: e.entity, RID: e.rid, Changes: ins.Changes})
	}
	for _, upd := range w.Updates {
		e, _ := u.lookup(upd.Entity)
		if err := u.takeSnapshot(e); err != nil {
			errs = append(errs, err)
		}
		u.dispatch(Event{Type: PostUpdate, Entity: e.entity, RID: e.rid, Changes: upd.Changes})
	}
	for _, rem := range w.Removals {
		e, _ := u.lookup(rem.Entity)
		u.forget(e)
		u.dispatch(Event{Type: PostRemove, Entity: rem.Entity, RID: rem.RID})
	}

	u.insertions = nil
	u.removals = nil
	u.changeSets = make(map[Handle]*ChangeSet)

	if len(report.Missing) > 0 {
		u.logger.Warn("store returned no identity for insertions", "positions", report.Missing)
		errs = append(errs, &ResultMismatchError{Positions: report.Missing})
	}
	return errors.Join(errs...)
}

func removeHandle(hs []Handle, h Handle) []Handle {
	out := hs[:0]
	for _, x := range hs {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}
