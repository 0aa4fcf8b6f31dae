package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultQueueSize = 256

// DispatcherStats counts delivery outcomes since start.
type DispatcherStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Dispatcher queues notifications and delivers them on a background worker.
// Failed deliveries are logged and counted; they are not retried.
type Dispatcher struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger
	timeout   time.Duration

	queue chan Notification
	wg    sync.WaitGroup
	once  sync.Once

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewDispatcher(email EmailSender, sms SMSSender, templates *TemplateEngine, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		email:     email,
		sms:       sms,
		templates: templates,
		logger:    logger.With().Str("component", "notification").Logger(),
		timeout:   30 * time.Second,
		queue:     make(chan Notification, defaultQueueSize),
	}
}

// Start launches the worker. It stops once ctx is cancelled and the queue
// has been drained, or after Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case n, ok := <-d.queue:
				if !ok {
					return
				}
				d.deliver(ctx, n)
			case <-ctx.Done():
				d.drain()
				return
			}
		}
	}()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(context.Background(), n)
		default:
			return
		}
	}
}

// Close stops accepting notifications and waits for the worker to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Enqueue schedules n for delivery. It never blocks: when the queue is full
// the notification is dropped and false is returned.
func (d *Dispatcher) Enqueue(n Notification) (ok bool) {
	defer func() {
		// send on a closed queue after Close
		if recover() != nil {
			ok = false
			d.dropped.Add(1)
		}
	}()

	select {
	case d.queue <- n:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn().Str("template", n.TemplateID).Msg("notification queue full, dropping")
		return false
	}
}

// Send renders and delivers n synchronously.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	subject, body, err := d.templates.Render(n.TemplateID, n.Data)
	if err != nil {
		return err
	}
	if n.Recipient == "" {
		return fmt.Errorf("notification %s has no recipient", n.TemplateID)
	}

	switch n.Channel {
	case ChannelEmail:
		return d.email.SendEmail(ctx, Email{
			To:          n.Recipient,
			Subject:     subject,
			Body:        body,
			Attachments: n.Attachments,
		})
	case ChannelSMS:
		return d.sms.SendSMS(ctx, n.Recipient, body)
	default:
		return fmt.Errorf("unsupported notification channel: %s", n.Channel)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.Send(ctx, n); err != nil {
		d.failed.Add(1)
		d.logger.Error().Err(err).
			Str("channel", string(n.Channel)).
			Str("template", n.TemplateID).
			Msg("notification delivery failed")
		return
	}
	d.sent.Add(1)
	d.logger.Debug().
		Str("channel", string(n.Channel)).
		Str("template", n.TemplateID).
		Msg("notification delivered")
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}
