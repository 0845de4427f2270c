// Package dynamo implements the tracking store on an Amazon DynamoDB
// table keyed by the string attribute "id".
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// item is the stored shape of a record. Times are RFC3339Nano strings.
type item struct {
	ID               string `dynamodbav:"id"`
	Kind             string `dynamodbav:"kind"`
	EmailID          string `dynamodbav:"email_id"`
	ContactID        string `dynamodbav:"contact_id"`
	CampaignID       string `dynamodbav:"campaign_id"`
	CreatedAt        string `dynamodbav:"created_at"`
	Resolved         bool   `dynamodbav:"resolved"`
	ResolvedAt       string `dynamodbav:"resolved_at,omitempty"`
	RequesterAgent   string `dynamodbav:"requester_agent,omitempty"`
	RequesterAddress string `dynamodbav:"requester_address,omitempty"`
	DestinationURL   string `dynamodbav:"destination_url,omitempty"`
	LinkLabel        string `dynamodbav:"link_label,omitempty"`
	HitCount         int    `dynamodbav:"hit_count"`
	LastHitAt        string `dynamodbav:"last_hit_at,omitempty"`
}

// TrackingStore implements tracking.Store on DynamoDB.
type TrackingStore struct {
	client    API
	tableName string
}

// NewTrackingStore creates a store over tableName.
func NewTrackingStore(client API, tableName string) *TrackingStore {
	return &TrackingStore{client: client, tableName: tableName}
}

func (s *TrackingStore) Create(ctx context.Context, r *domain.TrackingRecord) error {
	av, err := attributevalue.MarshalMap(toItem(r))
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if isConditionFailed(err) {
		return tracking.ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

func (s *TrackingStore) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, tracking.ErrNotFound
	}
	return decode(out.Item)
}

// Resolve is one conditional UpdateItem: the condition rejects unknown ids
// and kind mismatches, if_not_exists keeps the first resolved_at and ADD
// counts hits atomically.
func (s *TrackingStore) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression: aws.String("SET #resolved = :true, #resolved_at = if_not_exists(#resolved_at, :at), " +
			"#agent = :agent, #address = :address, #last_hit_at = :at ADD #hit_count :one"),
		ConditionExpression: aws.String("attribute_exists(#id) AND #kind = :kind"),
		ExpressionAttributeNames: map[string]string{
			"#id":          "id",
			"#kind":        "kind",
			"#resolved":    "resolved",
			"#resolved_at": "resolved_at",
			"#agent":       "requester_agent",
			"#address":     "requester_address",
			"#last_hit_at": "last_hit_at",
			"#hit_count":   "hit_count",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":    &types.AttributeValueMemberBOOL{Value: true},
			":at":      &types.AttributeValueMemberS{Value: formatTime(hit.At)},
			":agent":   &types.AttributeValueMemberS{Value: hit.Agent},
			":address": &types.AttributeValueMemberS{Value: hit.Address},
			":one":     &types.AttributeValueMemberN{Value: "1"},
			":kind":    &types.AttributeValueMemberS{Value: string(kind)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating item in DynamoDB: %w", err)
	}
	return decode(out.Attributes)
}

func (s *TrackingStore) Scan(ctx context.Context, f domain.RecordFilter) ([]domain.TrackingRecord, error) {
	in := &dynamodb.ScanInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
	}
	var conds []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	add := func(attr, val string) {
		conds = append(conds, fmt.Sprintf("#%s = :%s", attr, attr))
		names["#"+attr] = attr
		values[":"+attr] = &types.AttributeValueMemberS{Value: val}
	}
	if f.CampaignID != "" {
		add("campaign_id", f.CampaignID)
	}
	if f.ContactID != "" {
		add("contact_id", f.ContactID)
	}
	if f.Kind != "" {
		add("kind", string(f.Kind))
	}
	if len(conds) > 0 {
		in.FilterExpression = aws.String(strings.Join(conds, " AND "))
		in.ExpressionAttributeNames = names
		in.ExpressionAttributeValues = values
	}

	out := []domain.TrackingRecord{}
	pager := dynamodb.NewScanPaginator(s.client, in)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning DynamoDB: %w", err)
		}
		for _, av := range page.Items {
			rec, err := decode(av)
			if err != nil {
				return nil, err
			}
			if f.Matches(rec) {
				out = append(out, *rec)
			}
		}
	}
	tracking.SortRecords(out)
	return out, nil
}

// Ping checks the table is reachable and active.
func (s *TrackingStore) Ping(ctx context.Context) error {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err != nil {
		return fmt.Errorf("describing table %s: %w", s.tableName, err)
	}
	if out.Table != nil && out.Table.TableStatus != types.TableStatusActive && out.Table.TableStatus != types.TableStatusUpdating {
		return fmt.Errorf("table %s is %s", s.tableName, out.Table.TableStatus)
	}
	return nil
}

func (s *TrackingStore) Close() error { return nil }

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func toItem(r *domain.TrackingRecord) item {
	it := item{
		ID:               r.ID,
		Kind:             string(r.Kind),
		EmailID:          r.EmailID,
		ContactID:        r.ContactID,
		CampaignID:       r.CampaignID,
		CreatedAt:        formatTime(r.CreatedAt),
		Resolved:         r.Resolved,
		RequesterAgent:   r.RequesterAgent,
		RequesterAddress: r.RequesterAddress,
		DestinationURL:   r.DestinationURL,
		LinkLabel:        r.LinkLabel,
		HitCount:         r.HitCount,
	}
	if r.ResolvedAt != nil {
		it.ResolvedAt = formatTime(*r.ResolvedAt)
	}
	if r.LastHitAt != nil {
		it.LastHitAt = formatTime(*r.LastHitAt)
	}
	return it
}

func decode(av map[string]types.AttributeValue) (*domain.TrackingRecord, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	rec := &domain.TrackingRecord{
		ID:               it.ID,
		Kind:             domain.RecordKind(it.Kind),
		EmailID:          it.EmailID,
		ContactID:        it.ContactID,
		CampaignID:       it.CampaignID,
		Resolved:         it.Resolved,
		RequesterAgent:   it.RequesterAgent,
		RequesterAddress: it.RequesterAddress,
		DestinationURL:   it.DestinationURL,
		LinkLabel:        it.LinkLabel,
		HitCount:         it.HitCount,
	}
	created, err := parseTime(it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if created != nil {
		rec.CreatedAt = *created
	}
	if rec.ResolvedAt, err = parseTime(it.ResolvedAt); err != nil {
		return nil, fmt.Errorf("decode resolved_at: %w", err)
	}
	if rec.LastHitAt, err = parseTime(it.LastHitAt); err != nil {
		return nil, fmt.Errorf("decode last_hit_at: %w", err)
	}
	return rec, nil
}

var _ tracking.Store = (*TrackingStore)(nil)
