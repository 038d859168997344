package audit

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore writes audit records as items with string attributes
// city, timestamp and s3_url.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoClient builds a DynamoDB client from a loaded AWS config, honoring a
// custom endpoint.
func NewDynamoClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Put(ctx context.Context, rec models.AuditRecord) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"city":      &types.AttributeValueMemberS{Value: rec.City},
			"timestamp": &types.AttributeValueMemberS{Value: rec.Timestamp},
			"s3_url":    &types.AttributeValueMemberS{Value: rec.S3URL},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put item into %s: %w", s.table, err)
	}
	return nil
}

func (s *DynamoStore) Name() string { return "dynamodb" }

// Ping checks that the table exists. Used for health checks.
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return fmt.Errorf("dynamodb describe table %s: %w", s.table, err)
	}
	return nil
}
