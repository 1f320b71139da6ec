package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceid/internal/models"
)

const (
	ackWait       = 30 * time.Second
	maxDeliveries = 5
	fetchWait     = 5 * time.Second
	baseRetry     = 2 * time.Second
)

// EventHandler processes one decoded identity event. Returning an error
// naks the message for delayed redelivery.
type EventHandler func(ctx context.Context, evt models.IdentityEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

var errMissingType = errors.New("missing type")

// DecodeIdentityEvent parses a message payload.
func DecodeIdentityEvent(data []byte) (models.IdentityEvent, error) {
	var evt models.IdentityEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("decode identity event: %w", err)
	}
	if evt.Type == "" {
		return evt, fmt.Errorf("decode identity event: %w", errMissingType)
	}
	return evt, nil
}

// retryDelay grows linearly with the delivery count so a failing store is
// not hammered by the whole backlog at once.
func retryDelay(delivered uint64) time.Duration {
	if delivered == 0 {
		delivered = 1
	}
	return time.Duration(delivered) * baseRetry
}

// ConsumeIdentityEvents binds a durable pull consumer to the IDENTITY stream
// and hands messages to workers goroutines until ctx is done. Malformed
// payloads are terminated instead of redelivered.
func (c *Consumer) ConsumeIdentityEvents(ctx context.Context, name string, handler EventHandler, workers int) error {
	workers = max(workers, 1)

	stream, err := c.js.Stream(ctx, IdentityStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", IdentityStreamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliveries,
		FilterSubject: IdentitySubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", name, err)
	}

	inbox := make(chan jetstream.Msg, workers*2)
	go pull(ctx, cons, workers, inbox)
	for i := range workers {
		go work(ctx, i, handler, inbox)
	}

	slog.Info("identity event consumer started", "consumer", name, "workers", workers)
	return nil
}

// pull fetches batches of up to size messages and feeds them to inbox. It
// closes inbox when ctx is done.
func pull(ctx context.Context, cons jetstream.Consumer, size int, inbox chan<- jetstream.Msg) {
	defer close(inbox)
	for ctx.Err() == nil {
		batch, err := cons.Fetch(size, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch identity events", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for msg := range batch.Messages() {
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func work(ctx context.Context, id int, handler EventHandler, inbox <-chan jetstream.Msg) {
	for msg := range inbox {
		log := slog.With("worker", id, "subject", msg.Subject())

		evt, err := DecodeIdentityEvent(msg.Data())
		if err != nil {
			log.Error("drop identity event", "error", err)
			_ = msg.Term()
			continue
		}

		if err := handler(ctx, evt); err != nil {
			var delivered uint64
			if meta, merr := msg.Metadata(); merr == nil {
				delivered = meta.NumDelivered
			}
			log.Error("process identity event", "delivered", delivered, "error", err)
			_ = msg.NakWithDelay(retryDelay(delivered))
			continue
		}
		if err := msg.Ack(); err != nil {
			log.Warn("ack identity event", "error", err)
		}
	}
}

func (c *Consumer) Ping() error {
	if c.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("nats %s", c.nc.Status())
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
