package odm

import (
	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

// EventType identifies a lifecycle event.
type EventType int

const (
	PrePersist EventType = iota
	PreRemove
	PreCommit
	PostInsert
	PostUpdate
	PostRemove
)

func (t EventType) String() string {
	switch t {
	case PrePersist:
		return "prePersist"
	case PreRemove:
		return "preRemove"
	case PreCommit:
		return "preCommit"
	case PostInsert:
		return "postInsert"
	case PostUpdate:
		return "postUpdate"
	case PostRemove:
		return "postRemove"
	}
	return "unknown"
}

// Event is delivered to listeners. Entity is nil for PreCommit.
type Event struct {
	Type    EventType
	Entity  mapping.Entity
	RID     record.RID
	Changes *ChangeSet
}

// Listener receives lifecycle events synchronously on the committing flow.
type Listener func(Event)

// AddListener registers a lifecycle listener.
func (u *UnitOfWork) AddListener(l Listener) {
	u.listeners = append(u.listeners, l)
}

func (u *UnitOfWork) dispatch(ev Event) {
	for _, l := range u.listeners {
		l(ev)
	}
}
