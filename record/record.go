// Package record defines the identities and documents exchanged with the store.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Reserved document keys.
const (
	// KeyRID carries the identity of a stored record.
	KeyRID = "@rid"

	// KeyClass carries the storage-class name of a stored record.
	KeyClass = "@class"

	// KeyVersion carries the store-maintained record version, when the store has one.
	KeyVersion = "@version"
)

var (
	// ErrInvalidRID is returned when a string cannot be parsed as a cluster RID.
	ErrInvalidRID = errors.New("lattice: invalid record id")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("lattice: record not found")
)

// RID is the store-assigned identity of a persisted record.
//
// RIDs are opaque: OrientDB-style stores use "#cluster:position", MongoDB uses
// ObjectID hex strings and DynamoDB tables use UUIDs. The zero value means
// "not yet assigned".
type RID string

// NewRID formats a cluster RID (e.g., "#12:3").
func NewRID(cluster, position int64) RID {
	return RID("#" + strconv.FormatInt(cluster, 10) + ":" + strconv.FormatInt(position, 10))
}

// ParseRID parses a "#cluster:position" RID. The leading '#' is optional.
func ParseRID(s string) (RID, error) {
	cluster, position, err := split(s)
	if err != nil {
		return "", err
	}
	return NewRID(cluster, position), nil
}

// IsZero reports whether the RID has not been assigned.
func (r RID) IsZero() bool {
	return r == ""
}

// String returns the RID as a string.
func (r RID) String() string {
	return string(r)
}

// IsCluster reports whether the RID has the "#cluster:position" form.
func (r RID) IsCluster() bool {
	_, _, err := split(string(r))
	return err == nil
}

// Cluster returns the cluster and position parts of a cluster RID.
func (r RID) Cluster() (cluster, position int64, err error) {
	return split(string(r))
}

func split(s string) (int64, int64, error) {
	s = strings.TrimPrefix(s, "#")
	left, right, ok := strings.Cut(s, ":")
	if !ok || left == "" || right == "" {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}
	cluster, err := strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}
	position, err := strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRID, s)
	}
	return cluster, position, nil
}

// Document is a schema-flexible record as read from or written to the store.
type Document map[string]any

// RID returns the identity stored under KeyRID, or the zero RID.
func (d Document) RID() RID {
	switch v := d[KeyRID].(type) {
	case RID:
		return v
	case string:
		return RID(v)
	}
	return ""
}

// Class returns the storage-class name stored under KeyClass.
func (d Document) Class() string {
	if v, ok := d[KeyClass].(string); ok {
		return v
	}
	return ""
}

// Fields returns a copy of the document without reserved keys.
func (d Document) Fields() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// IsReserved reports whether key is a store-managed attribute.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, "@")
}
