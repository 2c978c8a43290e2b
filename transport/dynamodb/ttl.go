package dynamodb

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[AttrTTL]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// liveCondition requires the record to exist and not be soft-deleted.
func liveCondition() string {
	return "attribute_exists(#id) AND attribute_not_exists(#ttl)"
}

func unixValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
