package record

import (
	"errors"
	"testing"
)

// --- RID Tests ---

func TestNewRID(t *testing.T) {
	if got := NewRID(12, 3); got != "#12:3" {
		t.Errorf("expected #12:3, got %s", got)
	}
	if !NewRID(0, 0).IsCluster() {
		t.Error("expected #0:0 to be a cluster rid")
	}
}

func TestParseRID(t *testing.T) {
	tests := []struct {
		in      string
		want    RID
		wantErr bool
	}{
		{"#9:4", "#9:4", false},
		{"9:4", "#9:4", false},
		{"#-1:-2", "#-1:-2", false},
		{"#9", "", true},
		{"#:4", "", true},
		{"#9:", "", true},
		{"#a:4", "", true},
		{"#9:b", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRID(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRID) {
					t.Errorf("expected ErrInvalidRID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRID_Cluster(t *testing.T) {
	cluster, position, err := RID("#7:42").Cluster()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cluster != 7 || position != 42 {
		t.Errorf("expected 7 and 42, got %d and %d", cluster, position)
	}

	opaque := RID("65f1c0ffee0ddba11deadbee")
	if opaque.IsCluster() {
		t.Error("expected an ObjectID hex not to be a cluster rid")
	}
	if opaque.IsZero() || !RID("").IsZero() {
		t.Error("expected only the empty rid to be zero")
	}
	if opaque.String() != "65f1c0ffee0ddba11deadbee" {
		t.Errorf("unexpected String %q", opaque.String())
	}
}

// --- Document Tests ---

func TestDocument_Accessors(t *testing.T) {
	doc := Document{KeyRID: "#9:1", KeyClass: "Contact", KeyVersion: int64(2), "name": "Sydney"}
	if doc.RID() != "#9:1" {
		t.Errorf("expected #9:1 from string, got %s", doc.RID())
	}
	doc[KeyRID] = RID("#9:2")
	if doc.RID() != "#9:2" {
		t.Errorf("expected #9:2 from RID, got %s", doc.RID())
	}
	if doc.Class() != "Contact" {
		t.Errorf("expected Contact, got %q", doc.Class())
	}

	fields := doc.Fields()
	if len(fields) != 1 || fields["name"] != "Sydney" {
		t.Errorf("expected only name, got %v", fields)
	}

	var empty Document
	if empty.RID() != "" || empty.Class() != "" {
		t.Error("expected zero values from a nil document")
	}
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{"name": "Sydney"}
	clone := doc.Clone()
	clone["name"] = "Sam"
	if doc["name"] != "Sydney" {
		t.Errorf("expected original unchanged, got %v", doc["name"])
	}
}

func TestIsReserved(t *testing.T) {
	if !IsReserved(KeyRID) || !IsReserved("@anything") {
		t.Error("expected @-prefixed keys to be reserved")
	}
	if IsReserved("name") {
		t.Error("expected plain keys not to be reserved")
	}
}
