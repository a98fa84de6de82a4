// Package criteria provides an immutable query scope over a single DynamoDB table.
//
// A Criteria is a value: every builder method returns a new Criteria and leaves
// the receiver untouched, so a base scope can be shared and narrowed freely.
package criteria

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Op is a predicate operator.
type Op int

const (
	// Eq matches items whose field equals the value. A nil value matches
	// items where the field is missing or NULL.
	Eq Op = iota

	// Ne matches items whose field differs from the value.
	Ne
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "eq"
	case Ne:
		return "ne"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Condition is a single predicate on a storage-level field.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Index selects a secondary index and its partition key value.
type Index struct {
	Name     string
	KeyField string
	KeyValue any
}

// Criteria is an ordered conjunction of conditions on one table.
type Criteria struct {
	table string
	index *Index
	conds []Condition
}

// New returns an empty criteria on table.
func New(table string) Criteria {
	return Criteria{table: table}
}

// Table returns the table the criteria targets.
func (c Criteria) Table() string {
	return c.table
}

// Index returns the secondary index, or nil for a table scan.
func (c Criteria) Index() *Index {
	if c.index == nil {
		return nil
	}
	idx := *c.index
	return &idx
}

// Where adds an equality predicate.
func (c Criteria) Where(field string, value any) Criteria {
	return c.with(Condition{Field: field, Op: Eq, Value: value})
}

// Excludes adds an inequality predicate.
func (c Criteria) Excludes(field string, value any) Criteria {
	return c.with(Condition{Field: field, Op: Ne, Value: value})
}

// OnIndex queries the named index with keyField = keyValue instead of scanning.
func (c Criteria) OnIndex(name, keyField string, keyValue any) Criteria {
	next := c.clone(0)
	next.index = &Index{Name: name, KeyField: keyField, KeyValue: keyValue}
	return next
}

// Conditions returns a copy of the predicates in the order they were added.
func (c Criteria) Conditions() []Condition {
	out := make([]Condition, len(c.conds))
	copy(out, c.conds)
	return out
}

// Len returns the number of predicates.
func (c Criteria) Len() int {
	return len(c.conds)
}

func (c Criteria) with(cond Condition) Criteria {
	next := c.clone(1)
	next.conds = append(next.conds, cond)
	return next
}

// clone copies c into fresh backing storage so appends never alias the receiver.
func (c Criteria) clone(extra int) Criteria {
	conds := make([]Condition, len(c.conds), len(c.conds)+extra)
	copy(conds, c.conds)
	next := Criteria{table: c.table, conds: conds}
	if c.index != nil {
		idx := *c.index
		next.index = &idx
	}
	return next
}

// Expression is the DynamoDB rendering of a Criteria.
type Expression struct {
	// KeyCondition is set only when the criteria targets an index.
	KeyCondition string

	// Filter is empty when the criteria has no predicates.
	Filter string

	Names  map[string]string
	Values map[string]types.AttributeValue
}

// Expression renders the criteria with #nN / :vN placeholders in predicate order.
func (c Criteria) Expression() (Expression, error) {
	expr := Expression{
		Names:  map[string]string{},
		Values: map[string]types.AttributeValue{},
	}

	if c.index != nil {
		av, err := attributevalue.Marshal(c.index.KeyValue)
		if err != nil {
			return Expression{}, fmt.Errorf("marshal index key %s: %w", c.index.KeyField, err)
		}
		expr.Names["#k"] = c.index.KeyField
		expr.Values[":k"] = av
		expr.KeyCondition = "#k = :k"
	}

	clauses := make([]string, 0, len(c.conds))
	for i, cond := range c.conds {
		name := fmt.Sprintf("#n%d", i)
		value := fmt.Sprintf(":v%d", i)
		expr.Names[name] = cond.Field

		if cond.Value == nil {
			expr.Values[value] = &types.AttributeValueMemberS{Value: "NULL"}
			switch cond.Op {
			case Eq:
				clauses = append(clauses, fmt.Sprintf("(attribute_not_exists(%s) OR attribute_type(%s, %s))", name, name, value))
			case Ne:
				clauses = append(clauses, fmt.Sprintf("(attribute_exists(%s) AND NOT attribute_type(%s, %s))", name, name, value))
			}
			continue
		}

		av, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return Expression{}, fmt.Errorf("marshal %s: %w", cond.Field, err)
		}
		expr.Values[value] = av
		switch cond.Op {
		case Eq:
			clauses = append(clauses, fmt.Sprintf("%s = %s", name, value))
		case Ne:
			clauses = append(clauses, fmt.Sprintf("%s <> %s", name, value))
		}
	}
	expr.Filter = strings.Join(clauses, " AND ")

	return expr, nil
}

// Matches evaluates the criteria against an in-memory item keyed by storage
// field name. Values are compared in their marshalled form so numeric types
// of different widths compare equal.
func (c Criteria) Matches(item map[string]any) (bool, error) {
	if c.index != nil {
		ok, err := fieldEquals(item, c.index.KeyField, c.index.KeyValue)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, cond := range c.conds {
		eq, err := fieldEquals(item, cond.Field, cond.Value)
		if err != nil {
			return false, err
		}
		if (cond.Op == Eq) != eq {
			return false, nil
		}
	}
	return true, nil
}

func fieldEquals(item map[string]any, field string, want any) (bool, error) {
	got, ok := item[field]
	if want == nil {
		return !ok || isNil(got), nil
	}
	if !ok || isNil(got) {
		return false, nil
	}
	a, err := attributevalue.Marshal(got)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", field, err)
	}
	b, err := attributevalue.Marshal(want)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", field, err)
	}
	return reflect.DeepEqual(a, b), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
