package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// updateExpr accumulates SET and REMOVE clauses with generated placeholders.
// Document paths use #aN names and :vN values; fixed placeholders such as
// #version or :now are added directly by the caller.
type updateExpr struct {
	set    []string
	remove []string

	names    map[string]string
	nameKeys map[string]string
	values   map[string]types.AttributeValue
	n        int
}

func newUpdateExpr() *updateExpr {
	return &updateExpr{
		names:    make(map[string]string),
		nameKeys: make(map[string]string),
		values:   make(map[string]types.AttributeValue),
	}
}

// path returns a document path with one placeholder per segment.
func (u *updateExpr) path(segments ...string) string {
	keys := make([]string, len(segments))
	for i, seg := range segments {
		key, ok := u.nameKeys[seg]
		if !ok {
			key = fmt.Sprintf("#a%d", len(u.nameKeys))
			u.nameKeys[seg] = key
			u.names[key] = seg
		}
		keys[i] = key
	}
	return strings.Join(keys, ".")
}

func (u *updateExpr) value(v types.AttributeValue) string {
	key := fmt.Sprintf(":v%d", u.n)
	u.n++
	u.values[key] = v
	return key
}

func (u *updateExpr) Set(path string, v types.AttributeValue) {
	u.set = append(u.set, path+" = "+u.value(v))
}

func (u *updateExpr) SetClause(clause string) {
	u.set = append(u.set, clause)
}

func (u *updateExpr) Remove(path string) {
	u.remove = append(u.remove, path)
}

func (u *updateExpr) Name(placeholder, name string) {
	u.names[placeholder] = name
}

func (u *updateExpr) Value(placeholder string, v types.AttributeValue) {
	u.values[placeholder] = v
}

func (u *updateExpr) String() string {
	var parts []string
	if len(u.set) > 0 {
		parts = append(parts, "SET "+strings.Join(u.set, ", "))
	}
	if len(u.remove) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(u.remove, ", "))
	}
	return strings.Join(parts, " ")
}
