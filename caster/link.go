package caster

import (
	"errors"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/mapping"
	"github.com/jacentio/lattice/record"
)

// ErrUnresolvedLink is returned when a link target has neither an identity
// nor a batch position.
var ErrUnresolvedLink = errors.New("lattice: link target is neither persisted nor scheduled for insertion")

// Locator reports the batch position of an entity scheduled for insertion.
type Locator interface {
	Position(entity any) (batch.Placeholder, bool)
}

// CastLink converts an association target to its wire reference: the
// batch position of a co-inserted entity, otherwise its existing identity.
func CastLink(target any, meta *mapping.ClassMetadata, loc Locator) (any, error) {
	if loc != nil {
		if p, ok := loc.Position(target); ok {
			return p, nil
		}
	}
	rid := meta.Identity(target)
	if rid.IsZero() {
		return nil, ErrUnresolvedLink
	}
	return rid, nil
}

// LinkRIDs normalises a stored link value (a RID, a string or a list of
// either) into a list of identities.
func LinkRIDs(v any) []record.RID {
	switch x := v.(type) {
	case nil:
		return nil
	case record.RID:
		return []record.RID{x}
	case string:
		return []record.RID{record.RID(x)}
	case []record.RID:
		return append([]record.RID(nil), x...)
	case []string:
		out := make([]record.RID, len(x))
		for i, s := range x {
			out[i] = record.RID(s)
		}
		return out
	case []any:
		var out []record.RID
		for _, e := range x {
			out = append(out, LinkRIDs(e)...)
		}
		return out
	}
	return nil
}
