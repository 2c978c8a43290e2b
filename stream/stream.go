// Package stream provides DynamoDB Streams handlers that turn the record
// images written by the DynamoDB transport into per-record change sets.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/odm"
	"github.com/jacentio/lattice/record"
)

// Kind classifies a stream change.
type Kind int

const (
	Created Kind = iota
	Updated
	Removed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one record-level change observed on the stream.
type Change struct {
	EventID string
	Kind    Kind
	Class   string
	RID     record.RID

	// Old and New are the record images; Old is nil for Created, New is nil
	// for Removed.
	Old record.Document
	New record.Document

	// Fields holds the field-level differences between Old and New.
	Fields *odm.ChangeSet
}

// Sink receives changes in stream order.
type Sink interface {
	Apply(ctx context.Context, c Change) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Change) error

// Apply calls f.
func (f SinkFunc) Apply(ctx context.Context, c Change) error {
	return f(ctx, c)
}

// Handler processes DynamoDB stream events.
type Handler struct {
	sink   Sink
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(sink Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sink:   sink,
		logger: logger,
	}
}

// HandleChanges dispatches every record of the event to the sink and reports
// failed records as batch item failures, so only they are retried.
// This function is designed to be used as an AWS Lambda handler with
// ReportBatchItemFailures enabled.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for i, rec := range event.Records {
		if err := h.processRecord(ctx, rec); err != nil {
			h.logger.Error("failed to process record",
				"eventID", rec.EventID,
				"error", err,
			)
			// records after a failure are retried too, to keep per-key order
			for _, rest := range event.Records[i:] {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
					ItemIdentifier: rest.Change.SequenceNumber,
				})
			}
			return resp, nil
		}
	}
	return resp, nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, rec events.DynamoDBEventRecord) error {
	change, ok := Classify(rec)
	if !ok {
		return nil
	}

	h.logger.Debug("dispatching change",
		"eventID", change.EventID,
		"kind", change.Kind.String(),
		"class", change.Class,
		"rid", change.RID,
		"fields", change.Fields.Names(),
	)

	if err := h.sink.Apply(ctx, change); err != nil {
		return fmt.Errorf("apply %s %s: %w", change.Kind, change.RID, err)
	}
	return nil
}

// Classify turns a stream record into a Change. It reports false for records
// that carry no visible change: modifications that touch only managed
// attributes, and hard removals of records already soft-deleted.
func Classify(rec events.DynamoDBEventRecord) (Change, bool) {
	oldImage := rec.Change.OldImage
	newImage := rec.Change.NewImage

	c := Change{
		EventID: rec.EventID,
		RID:     RIDFromKey(rec.Change.Keys),
	}

	switch events.DynamoDBOperationType(rec.EventName) {
	case events.DynamoDBOperationTypeInsert:
		c.Kind = Created
		c.New = Document(newImage)

	case events.DynamoDBOperationTypeModify:
		oldTTL := getNumberAttr(oldImage, attrTTL)
		newTTL := getNumberAttr(newImage, attrTTL)
		c.Old = Document(oldImage)
		switch {
		case oldTTL == 0 && newTTL != 0:
			// soft delete
			c.Kind = Removed
		case oldTTL != 0:
			return Change{}, false
		default:
			c.Kind = Updated
			c.New = Document(newImage)
		}

	case events.DynamoDBOperationTypeRemove:
		if getNumberAttr(oldImage, attrTTL) != 0 {
			// reported when the TTL was set
			return Change{}, false
		}
		c.Kind = Removed
		c.Old = Document(oldImage)

	default:
		return Change{}, false
	}

	c.Fields = odm.DiffDocuments(c.Old, c.New)
	if c.Kind == Updated && c.Fields.Empty() {
		return Change{}, false
	}
	if c.Class = c.New.Class(); c.Class == "" {
		c.Class = c.Old.Class()
	}
	if c.RID.IsZero() {
		if c.RID = c.New.RID(); c.RID.IsZero() {
			c.RID = c.Old.RID()
		}
	}
	return c, true
}
