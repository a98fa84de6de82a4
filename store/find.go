package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/paranoia/criteria"
	"github.com/jacentio/paranoia/document"
)

// Find returns the documents of schema matching c. Expired items are always
// excluded; soft-deleted documents are returned unless c excludes them.
// A criteria on an index is a Query, otherwise a Scan.
func (s *Store) Find(ctx context.Context, schema *document.Schema, c criteria.Criteria) ([]*document.Document, error) {
	raws, err := s.match(ctx, c, 0)
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, len(raws))
	for _, raw := range raws {
		doc, err := decodeDocument(schema, raw)
		if err != nil {
			return nil, err
		}
		doc.SetPersister(s)
		docs = append(docs, doc)
	}
	return docs, nil
}

// Exists implements document.Finder.
func (s *Store) Exists(ctx context.Context, c criteria.Criteria) (bool, error) {
	raws, err := s.match(ctx, c, 1)
	if err != nil {
		return false, err
	}
	return len(raws) > 0, nil
}

// match pages through the items matching c. A positive limit stops paging
// once that many items were found.
func (s *Store) match(ctx context.Context, c criteria.Criteria, limit int) ([]map[string]types.AttributeValue, error) {
	if c.Table() == "" {
		return nil, errors.New("paranoia: criteria has no table")
	}
	expr, err := c.Expression()
	if err != nil {
		return nil, err
	}

	// Merge TTL filter with the criteria filter
	filterExpr := TTLFilterExpr()
	if expr.Filter != "" {
		filterExpr = fmt.Sprintf("(%s) AND (%s)", expr.Filter, filterExpr)
	}
	names := mergeExprNames(TTLFilterNames(), expr.Names)
	values := mergeExprValues(TTLFilterValues(), expr.Values)

	var items []map[string]types.AttributeValue
	full := func(page []map[string]types.AttributeValue) bool {
		items = append(items, page...)
		return limit > 0 && len(items) >= limit
	}

	if idx := c.Index(); idx != nil {
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:                 aws.String(c.Table()),
			IndexName:                 aws.String(idx.Name),
			KeyConditionExpression:    aws.String(expr.KeyCondition),
			FilterExpression:          aws.String(filterExpr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			if full(page.Items) {
				break
			}
		}
	} else {
		paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
			TableName:                 aws.String(c.Table()),
			FilterExpression:          aws.String(filterExpr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			if full(page.Items) {
				break
			}
		}
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// criteriaForChildren selects the referenced children of parentID.
func criteriaForChildren(child *document.Schema, parentID string) criteria.Criteria {
	return criteria.New(child.Table).Where(child.ParentKey, parentID)
}
