package mq

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alfianX/crossgate-gw/internal/ingest"
	"github.com/alfianX/crossgate-gw/internal/session"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EventSink receives decoded broker events.
type EventSink interface {
	ApplyPublish(ctx context.Context, ev session.PublishEvent) int
	ApplyMsgbox(ev session.MsgboxEvent)
}

// EventHandler decodes event deliveries and settles them. Events are
// never requeued; a bad body is logged and dropped.
type EventHandler struct {
	sink EventSink
	log  *logrus.Logger
}

func NewEventHandler(sink EventSink, log *logrus.Logger) *EventHandler {
	return &EventHandler{sink: sink, log: log}
}

func (h *EventHandler) HandlePublish(ctx context.Context, body []byte, handle ingest.Handle) {
	var ev session.PublishEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.log.Warnf("mq -> drop file publish event: %v", err)
		_ = handle.Ack()
		return
	}
	n := h.sink.ApplyPublish(ctx, ev)
	h.log.Infof("mq -> %s %s/%s %s applied to %d terminals", ev.Action, ev.MerchantID, ev.Code, ev.Version, n)
	_ = handle.Ack()
}

func (h *EventHandler) HandleMsgbox(_ context.Context, body []byte, handle ingest.Handle) {
	var ev session.MsgboxEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.log.Warnf("mq -> drop msgbox event: %v", err)
		_ = handle.Ack()
		return
	}
	h.sink.ApplyMsgbox(ev)
	_ = handle.Ack()
}

// ConsumeEvents purges the msgbox queue, since unread counts are reloaded
// from storage at startup, then consumes both event queues until ctx ends.
func (c *Client) ConsumeEvents(ctx context.Context, h *EventHandler) error {
	if n, err := c.Purge(MsgboxQueue); err != nil {
		c.log.Warnf("mq -> %v", err)
	} else if n > 0 {
		c.log.Infof("mq -> purged %d stale msgbox events", n)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	consume := func(queue string, fn func(context.Context, []byte, ingest.Handle)) {
		defer wg.Done()
		errs <- c.Consume(ctx, queue, 50, func(d amqp.Delivery) {
			fn(ctx, d.Body, NewHandle(d))
		}, nil)
	}
	wg.Add(2)
	go consume(FilePublishQueue, h.HandlePublish)
	go consume(MsgboxQueue, h.HandleMsgbox)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ConsumeData feeds the consume-data queue into the pipeline. Prefetch is
// kept above the batch size so a full batch can be in flight unacked. On
// shutdown the pipeline is drained while the channel can still ack.
func (c *Client) ConsumeData(ctx context.Context, p *ingest.Pipeline, batchSize int) error {
	return c.Consume(ctx, ConsumeDataQueue, batchSize*2, func(d amqp.Delivery) {
		p.Enqueue(ctx, d.Body, NewHandle(d))
	}, func() {
		if err := p.Drain(context.WithoutCancel(ctx)); err != nil {
			c.log.Errorf("mq -> drain pipeline: %v", err)
		}
	})
}
