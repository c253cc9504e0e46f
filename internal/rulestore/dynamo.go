package rulestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/metrics"
)

// dynamoRule is one item of the rules table. Conditions and Target hold the
// JSON encoding of the matching rule document fields; an empty Target means
// no update.
type dynamoRule struct {
	ID          string `dynamodbav:"id"`
	Position    int    `dynamodbav:"position"`
	Description string `dynamodbav:"description,omitempty"`
	Conditions  string `dynamodbav:"conditions,omitempty"`
	Target      string `dynamodbav:"target,omitempty"`
	Enabled     bool   `dynamodbav:"enabled"`
}

// DynamoRepository reads rules from a DynamoDB table. The table is small, so
// every load scans it whole and orders by position.
type DynamoRepository struct {
	client    dynamodb.ScanAPIClient
	tableName string
	compiler  rules.PredicateCompiler
}

func NewDynamoRepository(client dynamodb.ScanAPIClient, tableName string, compiler rules.PredicateCompiler) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName, compiler: compiler}
}

func (r *DynamoRepository) Source() string {
	return "dynamodb"
}

func (r *DynamoRepository) GetRuleSet(ctx context.Context) (rules.RuleSet, error) {
	start := time.Now()
	items, err := r.scan(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("rulestore", "dynamodb", "scan", status)
	metrics.ObserveDatabaseQueryDuration("rulestore", "dynamodb", "scan", time.Since(start))
	if err != nil {
		return nil, err
	}

	enabled := items[:0]
	for _, item := range items {
		if item.Enabled {
			enabled = append(enabled, item)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Position != enabled[j].Position {
			return enabled[i].Position < enabled[j].Position
		}
		return enabled[i].ID < enabled[j].ID
	})

	docs := make([]any, 0, len(enabled))
	for _, item := range enabled {
		doc, err := item.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := ValidateDocument(docs); err != nil {
		return nil, err
	}
	return rules.Decode(docs, r.compiler)
}

func (r *DynamoRepository) scan(ctx context.Context) ([]dynamoRule, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
	})

	var items []dynamoRule
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rules table %s: %w", r.tableName, err)
		}
		var batch []dynamoRule
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, apperrors.ErrConfiguration.WithMessage("invalid rule item in %s: %v", r.tableName, err).WithCause(err)
		}
		items = append(items, batch...)
	}
	return items, nil
}

func (d dynamoRule) document() (map[string]any, error) {
	rec := RuleRecord{ID: d.ID, Description: d.Description}
	if d.Conditions != "" {
		if err := json.Unmarshal([]byte(d.Conditions), &rec.Conditions); err != nil {
			return nil, apperrors.ErrConfiguration.WithMessage("rule %s: invalid conditions: %v", d.ID, err)
		}
	}
	if d.Target != "" {
		if err := json.Unmarshal([]byte(d.Target), &rec.Target); err != nil {
			return nil, apperrors.ErrConfiguration.WithMessage("rule %s: invalid target: %v", d.ID, err)
		}
	}
	return rec.Document(), nil
}
