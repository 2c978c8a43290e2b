// Package mongodb stores each storage class in its own MongoDB collection and
// applies batches inside a multi-document transaction.
//
// Identities are ObjectIDs generated on the client, so placeholders resolve
// before any write reaches the server and a retried transaction reuses the
// same identities.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/record"
)

const (
	fieldID      = "_id"
	fieldVersion = "_version"
)

// ErrClassRequired is returned when a record is loaded without its storage class.
var ErrClassRequired = errors.New("lattice: storage class is required")

// Transport implements batch.Transport, batch.AtomicScripter and batch.Finder
// over a MongoDB database.
type Transport struct {
	client *mongo.Client
	db     *mongo.Database
	config Config
	newID  func() primitive.ObjectID
}

// Open connects to the deployment described by cfg.
func Open(ctx context.Context, cfg Config) (*Transport, error) {
	cfg.validate()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return New(client, cfg), nil
}

// New wraps a connected client.
func New(client *mongo.Client, cfg Config) *Transport {
	cfg.validate()
	return &Transport{
		client: client,
		db:     client.Database(cfg.Database),
		config: cfg,
		newID:  primitive.NewObjectID,
	}
}

// Close disconnects the client.
func (t *Transport) Close(ctx context.Context) error {
	return t.client.Disconnect(ctx)
}

// SupportsAtomicBatch implements batch.AtomicScripter.
func (t *Transport) SupportsAtomicBatch() bool {
	return t.config.Transactions
}

// Collection returns the collection name for a storage class.
func (t *Transport) Collection(class string) string {
	return t.config.CollectionPrefix + class
}

// Submit implements batch.Transport.
func (t *Transport) Submit(ctx context.Context, b *batch.Batch) ([]record.Document, error) {
	ops, results, err := Plan(b, t.newID)
	if err != nil {
		return nil, err
	}

	if !t.config.Transactions {
		if err := t.apply(ctx, ops); err != nil {
			return nil, err
		}
		return results, nil
	}

	sess, err := t.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, t.apply(sc, ops)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Transport) apply(ctx context.Context, ops []Operation) error {
	for i, op := range ops {
		coll := t.db.Collection(t.Collection(op.Class))
		switch op.Kind {
		case batch.Insert:
			if _, err := coll.InsertOne(ctx, op.Document); err != nil {
				return fmt.Errorf("statement %d: insert %s: %w", i, op.Class, err)
			}

		case batch.Update:
			res, err := coll.UpdateOne(ctx, bson.M{fieldID: op.ID}, op.Update)
			if err != nil {
				return fmt.Errorf("statement %d: update %s: %w", i, op.Class, err)
			}
			if res.MatchedCount == 0 {
				return fmt.Errorf("statement %d: %w: %s", i, record.ErrNotFound, op.ID.Hex())
			}

		case batch.Delete:
			res, err := coll.DeleteOne(ctx, bson.M{fieldID: op.ID})
			if err != nil {
				return fmt.Errorf("statement %d: delete %s: %w", i, op.Class, err)
			}
			if res.DeletedCount == 0 {
				return fmt.Errorf("statement %d: %w: %s", i, record.ErrNotFound, op.ID.Hex())
			}
		}
	}
	return nil
}

// Load implements batch.Finder.
func (t *Transport) Load(ctx context.Context, class string, rid record.RID) (record.Document, error) {
	if class == "" {
		return nil, ErrClassRequired
	}
	id, err := objectID(rid)
	if err != nil {
		return nil, err
	}
	var raw bson.M
	err = t.db.Collection(t.Collection(class)).FindOne(ctx, bson.M{fieldID: id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", rid, err)
	}
	return Decode(class, raw), nil
}

// Operation is one server write derived from a batch statement.
type Operation struct {
	Kind  batch.Kind
	Class string
	ID    primitive.ObjectID

	// Document is the full document of an insert.
	Document bson.M

	// Update is the update document of an update.
	Update bson.M
}

// Plan resolves a batch into server writes. Insertions get identities from
// newID; the returned result documents are indexed by batch position.
func Plan(b *batch.Batch, newID func() primitive.ObjectID) ([]Operation, []record.Document, error) {
	resolver := batch.NewResolver()
	results := make([]record.Document, b.Insertions())
	ops := make([]Operation, 0, b.Len())

	for i, st := range b.Statements {
		fields := make(bson.M, len(st.Fields))
		for _, f := range st.Fields {
			if f.Name == fieldID || f.Name == fieldVersion {
				return nil, nil, fmt.Errorf("statement %d: %q is managed by the store", i, f.Name)
			}
			v, err := resolver.Value(f.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("statement %d: %w", i, err)
			}
			fields[f.Name] = plain(v)
		}

		switch st.Kind {
		case batch.Insert:
			id := newID()
			rid := record.RID(id.Hex())
			resolver.Bind(batch.Placeholder(st.Position), rid)
			fields[fieldID] = id
			fields[fieldVersion] = int64(1)
			ops = append(ops, Operation{Kind: batch.Insert, Class: st.Class, ID: id, Document: fields})
			results[st.Position] = record.Document{
				record.KeyRID:     rid,
				record.KeyClass:   st.Class,
				record.KeyVersion: int64(1),
			}

		case batch.Update:
			rid, err := resolver.Target(st.Target)
			if err != nil {
				return nil, nil, fmt.Errorf("statement %d: %w", i, err)
			}
			id, err := objectID(rid)
			if err != nil {
				return nil, nil, fmt.Errorf("statement %d: %w", i, err)
			}
			update := bson.M{"$inc": bson.M{fieldVersion: int64(1)}}
			if len(fields) > 0 {
				update["$set"] = fields
			}
			ops = append(ops, Operation{Kind: batch.Update, Class: st.Class, ID: id, Update: update})

		case batch.Delete:
			id, err := objectID(st.Target.RID)
			if err != nil {
				return nil, nil, fmt.Errorf("statement %d: %w", i, err)
			}
			ops = append(ops, Operation{Kind: batch.Delete, Class: st.Class, ID: id})
		}
	}
	return ops, results, nil
}

// Decode converts a stored document into a record.Document.
func Decode(class string, raw bson.M) record.Document {
	doc := make(record.Document, len(raw)+1)
	for k, v := range raw {
		switch k {
		case fieldID:
			if id, ok := v.(primitive.ObjectID); ok {
				doc[record.KeyRID] = record.RID(id.Hex())
			} else {
				doc[record.KeyRID] = record.RID(fmt.Sprint(v))
			}
		case fieldVersion:
			doc[record.KeyVersion] = normalize(v)
		default:
			doc[k] = normalize(v)
		}
	}
	doc[record.KeyClass] = class
	return doc
}

// normalize turns driver types into the plain values the caster expects.
func normalize(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.ObjectID:
		return x.Hex()
	}
	return v
}

// plain converts identities into strings before encoding.
func plain(v any) any {
	switch x := v.(type) {
	case record.RID:
		return string(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case time.Time:
		return x.UTC()
	}
	return v
}

func objectID(rid record.RID) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(string(rid))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", record.ErrInvalidRID, rid)
	}
	return id, nil
}
