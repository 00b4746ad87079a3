package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoCache
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// dynamoRecord is one cache entry. TTL is epoch seconds so the table's TTL
// attribute can reap it; zero means no expiry.
type dynamoRecord struct {
	Key   string `dynamodbav:"cache_key"`
	Value []byte `dynamodbav:"value"`
	TTL   int64  `dynamodbav:"ttl,omitempty"`
}

// DynamoCache stores cache entries in a DynamoDB table keyed by cache_key.
// DynamoDB deletes expired items lazily, so Get checks the ttl itself.
type DynamoCache struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoCache creates a cache on top of an existing table
func NewDynamoCache(client DynamoAPI, table string) *DynamoCache {
	return &DynamoCache{client: client, table: table, now: time.Now}
}

func (d *DynamoCache) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Get retrieves a value, treating expired items as missing
func (d *DynamoCache) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get error: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if rec.TTL > 0 && d.now().Unix() >= rec.TTL {
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

// Set writes a value with an optional expiry
func (d *DynamoCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rec := dynamoRecord{Key: key, Value: value}
	if ttl > 0 {
		rec.TTL = d.now().Add(ttl).Unix()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb put error: %w", err)
	}
	return nil
}

// Delete removes a key
func (d *DynamoCache) Delete(ctx context.Context, key string) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.keyAttr(key),
	}); err != nil {
		return fmt.Errorf("dynamodb delete error: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client has no connection to release
func (d *DynamoCache) Close() error { return nil }
