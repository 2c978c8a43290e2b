package stream

import (
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/record"
	"github.com/jacentio/lattice/transport/dynamodb"
)

// Attributes maintained by the DynamoDB transport.
const (
	attrID        = dynamodb.AttrID
	attrClass     = dynamodb.AttrClass
	attrVersion   = dynamodb.AttrVersion
	attrCreatedAt = dynamodb.AttrCreatedAt
	attrUpdatedAt = dynamodb.AttrUpdatedAt
	attrTTL       = dynamodb.AttrTTL
)

// Document converts a stream image written by the DynamoDB transport into a
// record.Document. Managed attributes map to the reserved keys; timestamps
// and the TTL marker are dropped.
func Document(image map[string]events.DynamoDBAttributeValue) record.Document {
	if image == nil {
		return nil
	}
	doc := make(record.Document, len(image))
	for k, v := range image {
		switch k {
		case attrID:
			doc[record.KeyRID] = record.RID(getStringAttr(image, k))
		case attrClass:
			doc[record.KeyClass] = getStringAttr(image, k)
		case attrVersion:
			doc[record.KeyVersion] = getNumberAttr(image, k)
		case attrCreatedAt, attrUpdatedAt, attrTTL:
		default:
			doc[k] = attrValue(v)
		}
	}
	return doc
}

// RIDFromKey extracts the record identity from a stream key.
func RIDFromKey(key map[string]events.DynamoDBAttributeValue) record.RID {
	return record.RID(getStringAttr(key, attrID))
}

// attrValue converts a stream attribute into a plain Go value. Whole numbers
// become int64, other numbers float64.
func attrValue(v events.DynamoDBAttributeValue) any {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String()
	case events.DataTypeNumber:
		return number(v.Number())
	case events.DataTypeBoolean:
		return v.Boolean()
	case events.DataTypeBinary:
		return v.Binary()
	case events.DataTypeNull:
		return nil
	case events.DataTypeList:
		list := v.List()
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = attrValue(e)
		}
		return out
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = attrValue(e)
		}
		return out
	case events.DataTypeStringSet:
		set := v.StringSet()
		out := make([]any, len(set))
		for i, s := range set {
			out[i] = s
		}
		return out
	case events.DataTypeNumberSet:
		set := v.NumberSet()
		out := make([]any, len(set))
		for i, s := range set {
			out[i] = number(s)
		}
		return out
	case events.DataTypeBinarySet:
		set := v.BinarySet()
		out := make([]any, len(set))
		for i, b := range set {
			out[i] = b
		}
		return out
	}
	return nil
}

func number(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts an integer attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
