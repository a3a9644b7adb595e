package publisher

import (
	"context"
	"log"
	"time"

	r "github.com/BassamT/bazar-com/internal/repository"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the slice of kafka.Writer the poller needs; tests swap in
// a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller drains outbox_events to Kafka. Delivery is at-least-once:
// a crash between publish and mark re-publishes the event, and consumers
// deduplicate by event ID.
type OutboxPoller struct {
	tick      time.Duration
	batchSize int
	repo      r.RepoInterface
	writer    messageWriter
}

func NewOutboxPoller(repo r.RepoInterface, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "order-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{tick: time.Second, batchSize: 100, repo: repo, writer: w}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if err := p.writer.Close(); err != nil {
		log.Printf("error closing kafka writer: %v", err)
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		log.Printf("failed to fetch outbox events: %v", err)
		return
	}

	for _, event := range events {
		if errPublish := p.publishToKafka(ctx, event); errPublish != nil {
			log.Printf("failed to publish event id = %v with error %v", event.ID, errPublish)
			continue
		}

		if errMark := p.repo.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			log.Printf("failed to mark event as processed id = %v with error %v", event.ID, errMark)
			continue
		}
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *r.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateId), // order_id, keeps one order's events in order
		Value: event.Payload,             // already JSON from the database
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
