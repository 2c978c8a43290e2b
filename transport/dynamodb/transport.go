// Package dynamodb submits batches to DynamoDB as single TransactWriteItems
// calls. Each storage class lives in its own table keyed by a string "_id";
// record ids are UUIDs generated before submission, so placeholders are
// resolved client-side and later updates of a co-inserted record are folded
// into its Put.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice/batch"
	"github.com/jacentio/lattice/record"
)

const maxTransactItems = 100

// Store-managed attributes. The leading underscore keeps them apart from
// mapped field names.
const (
	AttrID        = "_id"
	AttrClass     = "_class"
	AttrVersion   = "_version"
	AttrCreatedAt = "_created_at"
	AttrUpdatedAt = "_updated_at"
	AttrTTL       = "_ttl"
)

// IsManaged reports whether name is a store-managed attribute.
func IsManaged(name string) bool {
	switch name {
	case AttrID, AttrClass, AttrVersion, AttrCreatedAt, AttrUpdatedAt, AttrTTL:
		return true
	}
	return false
}

// Client is the subset of the DynamoDB API used by the transport.
type Client interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Transport implements batch.Transport, batch.AtomicScripter and batch.Finder.
type Transport struct {
	client Client
	config Config
	now    func() time.Time
	newID  func() string
}

// New creates a Transport over client.
func New(client Client, config Config) *Transport {
	config.validate()
	return &Transport{
		client: client,
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Open loads the AWS configuration for cfg and creates a Transport.
func Open(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg), nil
}

// TableName returns the table holding records of class.
func (t *Transport) TableName(class string) string {
	return t.config.TablePrefix + class
}

// SupportsAtomicBatch implements batch.AtomicScripter.
func (t *Transport) SupportsAtomicBatch() bool {
	return true
}

// pendingPut is an insertion still open to folded updates.
type pendingPut struct {
	index int
	class string
	item  map[string]types.AttributeValue
}

// Submit implements batch.Transport.
func (t *Transport) Submit(ctx context.Context, b *batch.Batch) ([]record.Document, error) {
	now := t.now()
	nowISO := now.UTC().Format(time.RFC3339)
	resolver := batch.NewResolver()

	var items []types.TransactWriteItem
	var kinds []batch.Kind
	var rids []record.RID
	puts := make(map[record.RID]*pendingPut)
	results := make([]record.Document, b.Insertions())

	for i, st := range b.Statements {
		switch st.Kind {
		case batch.Insert:
			rid := record.RID(t.newID())
			resolver.Bind(batch.Placeholder(st.Position), rid)
			item := map[string]types.AttributeValue{
				AttrID:        &types.AttributeValueMemberS{Value: rid.String()},
				AttrClass:     &types.AttributeValueMemberS{Value: st.Class},
				AttrVersion:   &types.AttributeValueMemberN{Value: "1"},
				AttrCreatedAt: &types.AttributeValueMemberS{Value: nowISO},
				AttrUpdatedAt: &types.AttributeValueMemberS{Value: nowISO},
			}
			if err := t.marshalFields(resolver, st.Fields, item); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			puts[rid] = &pendingPut{index: len(items), class: st.Class, item: item}
			items = append(items, types.TransactWriteItem{})
			kinds = append(kinds, batch.Insert)
			rids = append(rids, rid)
			results[st.Position] = record.Document{
				record.KeyRID:     rid,
				record.KeyClass:   st.Class,
				record.KeyVersion: int64(1),
			}

		case batch.Update:
			rid, err := resolver.Target(st.Target)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			// one transaction cannot touch an item twice
			if put, ok := puts[rid]; ok {
				if err := t.marshalFields(resolver, st.Fields, put.item); err != nil {
					return nil, fmt.Errorf("statement %d: %w", i, err)
				}
				continue
			}
			update, err := t.update(resolver, st, rid, nowISO)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			items = append(items, types.TransactWriteItem{Update: update})
			kinds = append(kinds, batch.Update)
			rids = append(rids, rid)

		case batch.Delete:
			items = append(items, t.remove(st.Class, st.Target.RID, now))
			kinds = append(kinds, batch.Delete)
			rids = append(rids, st.Target.RID)
		}
	}

	for _, put := range puts {
		items[put.index] = types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(t.TableName(put.class)),
				Item:                put.item,
				ConditionExpression: aws.String("attribute_not_exists(#id)"),
				ExpressionAttributeNames: map[string]string{
					"#id": AttrID,
				},
			},
		}
	}

	if len(items) == 0 {
		return results, nil
	}
	if len(items) > t.config.MaxItems {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(items), t.config.MaxItems)
	}

	_, err := t.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return nil, mapTransactionError(err, kinds, rids)
	}
	return results, nil
}

func (t *Transport) marshalFields(r *batch.Resolver, fields []batch.Assignment, item map[string]types.AttributeValue) error {
	for _, f := range fields {
		if IsManaged(f.Name) {
			return fmt.Errorf("field %q collides with a store-managed attribute", f.Name)
		}
		av, err := marshalValue(r, f.Value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", f.Name, err)
		}
		item[f.Name] = av
	}
	return nil
}

func (t *Transport) update(r *batch.Resolver, st batch.Statement, rid record.RID, nowISO string) (*types.Update, error) {
	var setClauses []string
	exprNames := map[string]string{
		"#id":         AttrID,
		"#updated_at": AttrUpdatedAt,
		"#version":    AttrVersion,
		"#ttl":        AttrTTL,
	}
	exprValues := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: nowISO},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}

	for i, f := range st.Fields {
		if IsManaged(f.Name) {
			return nil, fmt.Errorf("field %q collides with a store-managed attribute", f.Name)
		}
		av, err := marshalValue(r, f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.Name, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = f.Name
		exprValues[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	return &types.Update{
		TableName:                 aws.String(t.TableName(st.Class)),
		Key:                       key(rid),
		UpdateExpression:          aws.String("SET " + strings.Join(setClauses, ", ")),
		ConditionExpression:       aws.String(liveCondition()),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	}, nil
}

func (t *Transport) remove(class string, rid record.RID, now time.Time) types.TransactWriteItem {
	if !t.config.SoftDelete {
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:           aws.String(t.TableName(class)),
				Key:                 key(rid),
				ConditionExpression: aws.String("attribute_exists(#id)"),
				ExpressionAttributeNames: map[string]string{
					"#id": AttrID,
				},
			},
		}
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(t.TableName(class)),
			Key:                 key(rid),
			UpdateExpression:    aws.String("SET #ttl = :now, #version = #version + :one"),
			ConditionExpression: aws.String(liveCondition()),
			ExpressionAttributeNames: map[string]string{
				"#id":      AttrID,
				"#ttl":     AttrTTL,
				"#version": AttrVersion,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": unixValue(now),
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
		},
	}
}

// Load implements batch.Finder. Soft-deleted records are reported as missing.
func (t *Transport) Load(ctx context.Context, class string, rid record.RID) (record.Document, error) {
	if class == "" {
		return nil, ErrClassRequired
	}
	result, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.TableName(class)),
		Key:            key(rid),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || IsDeleted(result.Item, t.now()) {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, rid)
	}
	return unmarshalDocument(result.Item, class)
}

func key(rid record.RID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrID: &types.AttributeValueMemberS{Value: rid.String()},
	}
}

// marshalValue resolves placeholders and converts a wire value to an attribute value.
func marshalValue(r *batch.Resolver, v any) (types.AttributeValue, error) {
	resolved, err := r.Value(v)
	if err != nil {
		return nil, err
	}
	return attributevalue.Marshal(plain(resolved))
}

// plain replaces identities with strings so they marshal as S values.
func plain(v any) any {
	switch x := v.(type) {
	case record.RID:
		return x.String()
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
	}
	return v
}

func unmarshalDocument(item map[string]types.AttributeValue, class string) (record.Document, error) {
	var raw map[string]any
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	doc := make(record.Document, len(raw))
	for k, v := range raw {
		if IsManaged(k) {
			continue
		}
		doc[k] = v
	}
	if v, ok := item[AttrID].(*types.AttributeValueMemberS); ok {
		doc[record.KeyRID] = record.RID(v.Value)
	}
	doc[record.KeyClass] = class
	if v, ok := item[AttrClass].(*types.AttributeValueMemberS); ok {
		doc[record.KeyClass] = v.Value
	}
	if v, ok := item[AttrVersion].(*types.AttributeValueMemberN); ok {
		version, _ := strconv.ParseInt(v.Value, 10, 64)
		doc[record.KeyVersion] = version
	}
	return doc, nil
}

// mapTransactionError maps DynamoDB transaction cancellations to lattice
// errors using the statement kind at each cancelled item index.
func mapTransactionError(err error, kinds []batch.Kind, rids []record.RID) error {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return err
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" || i >= len(kinds) {
			continue
		}
		if kinds[i] == batch.Insert {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rids[i])
		}
		return fmt.Errorf("%w: %s", record.ErrNotFound, rids[i])
	}
	return err
}
