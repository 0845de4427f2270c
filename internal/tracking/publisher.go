package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

type EventType string

const (
	EventOpen  EventType = "opened"
	EventClick EventType = "clicked"
)

const publishTimeout = 5 * time.Second

// Event is the message body published for every resolution, first or
// repeat.
type Event struct {
	EventType  EventType         `json:"event_type"`
	RecordID   string            `json:"record_id"`
	Kind       domain.RecordKind `json:"kind"`
	EmailID    string            `json:"email_id"`
	ContactID  string            `json:"contact_id"`
	CampaignID string            `json:"campaign_id"`
	LinkURL    string            `json:"link_url,omitempty"`
	LinkLabel  string            `json:"link_label,omitempty"`
	First      bool              `json:"first"`
	HitCount   int               `json:"hit_count"`
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	ResolvedAt time.Time         `json:"resolved_at"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewEvent describes the hit just applied to rec.
func NewEvent(rec *domain.TrackingRecord) Event {
	evt := Event{
		EventType:  EventOpen,
		RecordID:   rec.ID,
		Kind:       rec.Kind,
		EmailID:    rec.EmailID,
		ContactID:  rec.ContactID,
		CampaignID: rec.CampaignID,
		First:      rec.HitCount == 1,
		HitCount:   rec.HitCount,
		IPAddress:  rec.RequesterAddress,
		UserAgent:  rec.RequesterAgent,
	}
	if rec.Kind == domain.KindClick {
		evt.EventType = EventClick
		evt.LinkURL = rec.DestinationURL
		evt.LinkLabel = rec.LinkLabel
	}
	if rec.ResolvedAt != nil {
		evt.ResolvedAt = *rec.ResolvedAt
	}
	if rec.LastHitAt != nil {
		evt.Timestamp = *rec.LastHitAt
	}
	return evt
}

// EventPublisher hands resolution events to downstream consumers. Publish
// must not block the request.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// SQSAPI is the subset of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends events to an SQS queue in the background. Failures are
// logged and dropped.
type Publisher struct {
	client   SQSAPI
	queueURL string
	wg       sync.WaitGroup
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

func (p *Publisher) Publish(_ context.Context, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshal tracking event", "record_id", evt.RecordID, "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Detached from the request: the response is already on its way.
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publishing to SQS", "record_id", evt.RecordID, "error", err)
		}
	}()
}

// Close waits for in-flight sends.
func (p *Publisher) Close() {
	p.wg.Wait()
}
