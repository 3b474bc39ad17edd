// Package notify publishes operation lifecycle notifications as cloud events.
// Events are buffered so a slow broker never blocks the operation pipeline.
package notify

import (
	"context"
	"encoding/json"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	OperationMessageKind    string = "bulkops.events.operation"
	ReportMessageKind       string = "bulkops.events.report"
	VerificationMessageKind string = "bulkops.events.verification"
	defaultTopic            string = "bulkops.events"

	eventSource = "bulkops"
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// Producer wraps a Writer with a buffer so callers never wait on the broker.
type Producer struct {
	buffer           *buffer
	startConsumingCh chan any
	doneCh           chan any
	writer           Writer
	topic            string
}

func NewProducer(w Writer, opts ...ProducerOption) *Producer {
	p := &Producer{
		buffer:           newBuffer(),
		startConsumingCh: make(chan any),
		doneCh:           make(chan any),
		writer:           w,
		topic:            defaultTopic,
	}

	for _, o := range opts {
		o(p)
	}

	go p.run()
	return p
}

// Write queues one event body for delivery. The body is marshalled to JSON
// before queueing so later mutation by the caller cannot leak into the event.
func (p *Producer) Write(ctx context.Context, kind string, body any) error {
	d, err := json.Marshal(body)
	if err != nil {
		return err
	}

	prevSize := p.buffer.Size()
	p.buffer.PushBack(&message{
		Kind: kind,
		Data: d,
	})

	if prevSize == 0 {
		// unblock the consumer and start sending messages
		p.startConsumingCh <- struct{}{}
	}

	return nil
}

func (p *Producer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		p.doneCh <- struct{}{}
		return p.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Errorf("notification producer closed with error: %s", err)
		return err
	}

	zap.S().Named("notify").Info("notification producer closed")

	return nil
}

func (p *Producer) run() {
	for {
		select {
		case <-p.doneCh:
			return
		default:
		}

		if p.buffer.Size() == 0 {
			select {
			case <-p.startConsumingCh:
			case <-p.doneCh:
				return
			}
		}

		msg := p.buffer.Pop()
		if msg == nil {
			continue
		}

		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(eventSource)
		e.SetType(msg.Kind)
		_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

		if err := p.writer.Write(context.TODO(), p.topic, e); err != nil {
			zap.S().Named("notify").Errorw("failed to send notification", "error", err, "event", e)
		}
	}
}
