package record

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/halapix/imgpipe/internal/fault"
)

// DynamoStore implements Store on a DynamoDB table keyed by
// resource-id.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamo creates a DynamoStore writing to the given table.
func NewDynamo(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// Persist marshals rec and writes it as a single item.
func (d *DynamoStore) Persist(ctx context.Context, rec *Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fault.New(fault.KindPersist, "marshal record %s: %w", rec.ID, err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.table,
		Item:      item,
	}); err != nil {
		return fault.New(fault.KindPersist, "put record %s: %w", rec.ID, err)
	}

	log.Debug().
		Str("table", d.table).
		Str("recordId", rec.ID).
		Msg("Record persisted")
	return nil
}
