package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
)

type fakeDynamo struct {
	puts        []*dynamodb.PutItemInput
	putErr      error
	describeErr error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func TestDynamoStore_Put(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, "weather-audit")

	rec := models.AuditRecord{City: "london", Timestamp: "2024-01-01T00:00:00Z", S3URL: "https://b.s3.amazonaws.com/k.json"}
	if err := s.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("PutItem calls = %d, want 1", len(fake.puts))
	}
	in := fake.puts[0]
	if aws.ToString(in.TableName) != "weather-audit" {
		t.Errorf("TableName = %q", aws.ToString(in.TableName))
	}
	want := map[string]string{"city": rec.City, "timestamp": rec.Timestamp, "s3_url": rec.S3URL}
	if len(in.Item) != len(want) {
		t.Errorf("item has %d attributes, want %d", len(in.Item), len(want))
	}
	for name, v := range want {
		attr, ok := in.Item[name].(*types.AttributeValueMemberS)
		if !ok {
			t.Errorf("attribute %s = %T, want string", name, in.Item[name])
			continue
		}
		if attr.Value != v {
			t.Errorf("attribute %s = %q, want %q", name, attr.Value, v)
		}
	}
}

func TestDynamoStore_Put_Error(t *testing.T) {
	putErr := errors.New("ResourceNotFoundException")
	s := NewDynamoStore(&fakeDynamo{putErr: putErr}, "weather-audit")
	err := s.Put(context.Background(), models.AuditRecord{City: "x"})
	if !errors.Is(err, putErr) {
		t.Errorf("Put() error = %v, want wrapped %v", err, putErr)
	}
}

func TestDynamoStore_Ping(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, "weather-audit")
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	fake.describeErr = errors.New("no table")
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() expected error")
	}
}
