// Package webhook posts task archival and rejection notices to chat
// webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/kylemclaren/slowstock/internal/events"
)

const footer = "Slow Stock Tasks"

// Notifier delivers one event to an external service.
type Notifier interface {
	Name() string
	Send(ctx context.Context, e events.Event) error
}

// Notifies reports whether events of kind k are sent to webhooks.
func Notifies(k events.Kind) bool {
	switch k {
	case events.KindApproved, events.KindRejected, events.KindTimeout:
		return true
	}
	return false
}

// Dispatcher is an events.Sink that delivers notable events to its
// notifiers from a background goroutine. Events are dropped when the
// queue is full.
type Dispatcher struct {
	notifiers []Notifier
	log       logrus.FieldLogger
	queue     chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. Close must be called to drain it.
func NewDispatcher(log logrus.FieldLogger, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		log:       log,
		queue:     make(chan events.Event, 256),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues e if it is a notable event.
func (d *Dispatcher) Publish(e events.Event) {
	if len(d.notifiers) == 0 || !Notifies(e.Kind) {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.log.WithField("sku", e.SKU).WithField("kind", e.Kind).Warn("Webhook queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, n := range d.notifiers {
			if err := n.Send(context.Background(), e); err != nil {
				d.log.WithField("notifier", n.Name()).WithField("sku", e.SKU).WithError(err).Warn("Webhook delivery failed")
			}
		}
	}
}

func emoji(k events.Kind) string {
	switch k {
	case events.KindApproved:
		return "✅"
	case events.KindRejected:
		return "↩️"
	case events.KindTimeout:
		return "⏰"
	default:
		return "ℹ️"
	}
}

func headline(e events.Event) string {
	switch e.Kind {
	case events.KindApproved:
		return fmt.Sprintf("Task approved: %s", e.SKU)
	case events.KindRejected:
		return fmt.Sprintf("Task rejected: %s", e.SKU)
	case events.KindTimeout:
		return fmt.Sprintf("Task timed out: %s", e.SKU)
	default:
		return fmt.Sprintf("Task %s: %s", e.Kind, e.SKU)
	}
}

func describe(e events.Event) string {
	switch e.Kind {
	case events.KindApproved:
		return fmt.Sprintf("**%s** was approved and archived to history.", e.SKU)
	case events.KindRejected:
		return fmt.Sprintf("**%s** was sent back to completion check.", e.SKU)
	case events.KindTimeout:
		return fmt.Sprintf("**%s** overran its deadline while %s and was reset.", e.SKU, orDash(e.From))
	default:
		return fmt.Sprintf("**%s** moved from %s to %s.", e.SKU, orDash(e.From), orDash(e.To))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate keeps the first n characters of s, never splitting a rune.
func truncate(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + suffix
}

func post(ctx context.Context, client *http.Client, webhookURL string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
