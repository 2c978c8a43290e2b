package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/stream"
	"github.com/jacentio/lattice/transport/dynamodb"
)

func image(id, name string, extra map[string]events.DynamoDBAttributeValue) map[string]events.DynamoDBAttributeValue {
	img := map[string]events.DynamoDBAttributeValue{
		dynamodb.AttrID:        events.NewStringAttribute(id),
		dynamodb.AttrClass:     events.NewStringAttribute("Contact"),
		dynamodb.AttrVersion:   events.NewNumberAttribute("1"),
		dynamodb.AttrUpdatedAt: events.NewStringAttribute("2026-01-01T00:00:00Z"),
		"name":                 events.NewStringAttribute(name),
	}
	for k, v := range extra {
		img[k] = v
	}
	return img
}

func streamRecord(seq, name string, oldImage, newImage map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   "evt-" + seq,
		EventName: name,
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: seq,
			Keys:           map[string]events.DynamoDBAttributeValue{dynamodb.AttrID: events.NewStringAttribute("c1")},
			OldImage:       oldImage,
			NewImage:       newImage,
		},
	}
}

// --- Classify Tests ---

func TestClassify(t *testing.T) {
	ttl := map[string]events.DynamoDBAttributeValue{dynamodb.AttrTTL: events.NewNumberAttribute("1700000000")}
	touched := image("c1", "Sydney", map[string]events.DynamoDBAttributeValue{
		dynamodb.AttrVersion:   events.NewNumberAttribute("2"),
		dynamodb.AttrUpdatedAt: events.NewStringAttribute("2026-01-02T00:00:00Z"),
	})

	tests := []struct {
		name     string
		rec      events.DynamoDBEventRecord
		wantOK   bool
		wantKind stream.Kind
		fields   []string
	}{
		{"insert", streamRecord("1", "INSERT", nil, image("c1", "Sydney", nil)), true, stream.Created, []string{"name"}},
		{"modify", streamRecord("2", "MODIFY", image("c1", "Sydney", nil), image("c1", "Sam", nil)), true, stream.Updated, []string{"name"}},
		{"managed only", streamRecord("3", "MODIFY", image("c1", "Sydney", nil), touched), false, 0, nil},
		{"soft delete", streamRecord("4", "MODIFY", image("c1", "Sydney", nil), image("c1", "Sydney", ttl)), true, stream.Removed, []string{"name"}},
		{"already soft deleted", streamRecord("5", "MODIFY", image("c1", "Sydney", ttl), image("c1", "Sydney", ttl)), false, 0, nil},
		{"hard delete", streamRecord("6", "REMOVE", image("c1", "Sydney", nil), nil), true, stream.Removed, []string{"name"}},
		{"ttl expiry", streamRecord("7", "REMOVE", image("c1", "Sydney", ttl), nil), false, 0, nil},
		{"unknown event", streamRecord("8", "OTHER", nil, nil), false, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := stream.Classify(tt.rec)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if c.Kind != tt.wantKind {
				t.Errorf("expected %s, got %s", tt.wantKind, c.Kind)
			}
			if c.RID != "c1" || c.Class != "Contact" {
				t.Errorf("expected Contact c1, got %s %s", c.Class, c.RID)
			}
			names := c.Fields.Names()
			if len(names) != len(tt.fields) || (len(names) > 0 && names[0] != tt.fields[0]) {
				t.Errorf("expected fields %v, got %v", tt.fields, names)
			}
		})
	}
}

// --- Handler Tests ---

func TestHandleChanges_DispatchesInOrder(t *testing.T) {
	var got []stream.Change
	h := stream.NewHandler(stream.SinkFunc(func(ctx context.Context, c stream.Change) error {
		got = append(got, c)
		return nil
	}), nil)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		streamRecord("1", "INSERT", nil, image("c1", "Sydney", nil)),
		streamRecord("2", "MODIFY", image("c1", "Sydney", nil), image("c1", "Sam", nil)),
	}}
	resp, err := h.HandleChanges(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("expected no failures, got %v", resp.BatchItemFailures)
	}
	if len(got) != 2 || got[0].Kind != stream.Created || got[1].Kind != stream.Updated {
		t.Fatalf("expected created then updated, got %+v", got)
	}
	if ch := got[1].Fields.Fields["name"]; ch.Old != "Sydney" || ch.New != "Sam" {
		t.Errorf("expected name Sydney -> Sam, got %+v", ch)
	}
}

func TestHandleChanges_ReportsFailureAndRest(t *testing.T) {
	calls := 0
	h := stream.NewHandler(stream.SinkFunc(func(ctx context.Context, c stream.Change) error {
		calls++
		if c.EventID == "evt-2" {
			return errors.New("sink down")
		}
		return nil
	}), nil)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		streamRecord("1", "INSERT", nil, image("c1", "Sydney", nil)),
		streamRecord("2", "MODIFY", image("c1", "Sydney", nil), image("c1", "Sam", nil)),
		streamRecord("3", "REMOVE", image("c1", "Sam", nil), nil),
	}}
	resp, err := h.HandleChanges(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected processing to stop after the failure, got %d calls", calls)
	}
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(resp.BatchItemFailures))
	}
	if resp.BatchItemFailures[0].ItemIdentifier != "2" || resp.BatchItemFailures[1].ItemIdentifier != "3" {
		t.Errorf("expected sequence numbers 2 and 3, got %v", resp.BatchItemFailures)
	}
}

func TestKindString(t *testing.T) {
	if stream.Removed.String() != "removed" || stream.Kind(9).String() != "unknown" {
		t.Errorf("unexpected kind names %s %s", stream.Removed, stream.Kind(9))
	}
}
