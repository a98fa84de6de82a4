package store

import (
	"maps"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired checks if an item has an expired TTL (is marked for hard deletion).
func IsExpired(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item[attrTTL]
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
	return ttl <= time.Now().Unix()
}

// IsSoftDeleted checks if an item carries a deleted-at value in field.
func IsSoftDeleted(item map[string]types.AttributeValue, field string) bool {
	if field == "" {
		return false
	}
	switch v := item[field].(type) {
	case nil, *types.AttributeValueMemberNULL:
		return false
	case *types.AttributeValueMemberS:
		return v.Value != ""
	default:
		return true
	}
}

// TTLFilterExpr returns the filter expression to exclude expired items.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for TTL filter.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": attrTTL}
}

// TTLFilterValues returns expression attribute values for TTL filter.
func TTLFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": unixValue(time.Now()),
	}
}

// ParentExistsCondition returns the condition expression for parent validation.
// The parent must exist, have no expired TTL and, when deletedAtField is set,
// not be soft-deleted. The expression uses #ttl, :now and, for capable
// parents, #del and :null.
func ParentExistsCondition(deletedAtField string) string {
	cond := "attribute_exists(id) AND (attribute_not_exists(#ttl) OR #ttl > :now)"
	if deletedAtField != "" {
		cond += " AND (attribute_not_exists(#del) OR attribute_type(#del, :null))"
	}
	return cond
}

func unixValue(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(ms ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range ms {
		maps.Copy(result, m)
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(ms ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range ms {
		maps.Copy(result, m)
	}
	return result
}
