// Package notify delivers committed ledger events to agent webhooks.
// Delivery is at-least-once and best-effort: events come out of the
// store's transactional outbox, so nothing is lost across restarts,
// but an unreachable endpoint is retried with backoff and eventually
// abandoned.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/ledger/pgstore"
)

// Signature headers attached to every delivery.
const (
	HeaderSignature = "X-Agentlink-Signature"
	HeaderEvent     = "X-Agentlink-Event"
	HeaderDelivery  = "X-Agentlink-Delivery"
)

// Outbox is the source of committed, undelivered events. Abandoned
// events are recorded separately from delivered ones so the outbox
// stays auditable.
type Outbox interface {
	NextUndelivered(ctx context.Context, limit int) ([]pgstore.OutboxEvent, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, backoff time.Duration) error
	MarkAbandoned(ctx context.Context, id int64) error
}

// Endpoint is a resolved webhook target.
type Endpoint struct {
	URL    string
	Secret []byte
}

// Resolver maps an agent address to its webhook endpoint. A nil
// endpoint means the agent has no webhook registered.
type Resolver interface {
	Endpoint(ctx context.Context, addr ledger.Address) (*Endpoint, error)
}

// Observer receives delivery outcomes, for metrics.
type Observer interface {
	DeliverySucceeded(eventType string)
	DeliveryFailed(eventType string)
}

// Options configures a Dispatcher.
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	Timeout      time.Duration
	Observer     Observer
}

// Dispatcher polls the outbox and posts events to agent webhooks. It
// is started once per process; the outbox queries assume a single
// poller.
type Dispatcher struct {
	outbox   Outbox
	resolver Resolver
	client   *http.Client
	opts     Options
	done     chan struct{}
}

// NewDispatcher creates a dispatcher over the given outbox and
// resolver. Zero option fields get sensible defaults.
func NewDispatcher(outbox Outbox, resolver Resolver, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		outbox:   outbox,
		resolver: resolver,
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// Start polls the outbox on a timer. It blocks until Stop is called or
// the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.dispatch(ctx)
		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

// Stop signals the polling goroutine to exit.
func (d *Dispatcher) Stop() {
	close(d.done)
}

// dispatch processes one batch of undelivered events. Errors are
// logged rather than returned so a bad endpoint never stalls the loop.
func (d *Dispatcher) dispatch(ctx context.Context) {
	events, err := d.outbox.NextUndelivered(ctx, d.opts.BatchSize)
	if err != nil {
		slog.Error("failed to poll event outbox", "error", err)
		return
	}

	for _, ev := range events {
		if err := d.deliverOutbox(ctx, ev); err == nil {
			if err := d.outbox.MarkDelivered(ctx, ev.ID); err != nil {
				slog.Error("failed to mark event delivered", "event_id", ev.ID, "error", err)
			}
			continue
		} else if ev.Attempts+1 >= d.opts.MaxAttempts {
			slog.Warn("abandoning event after repeated delivery failures",
				"event_id", ev.ID, "event_type", ev.Type, "attempts", ev.Attempts+1, "error", err)
			if err := d.outbox.MarkAbandoned(ctx, ev.ID); err != nil {
				slog.Error("failed to mark event abandoned", "event_id", ev.ID, "error", err)
			}
			continue
		} else {
			backoff := d.opts.BaseBackoff << uint(ev.Attempts)
			slog.Warn("event delivery failed, scheduling retry",
				"event_id", ev.ID, "event_type", ev.Type, "attempts", ev.Attempts+1,
				"backoff", backoff, "error", err)
			if err := d.outbox.MarkFailed(ctx, ev.ID, backoff); err != nil {
				slog.Error("failed to record delivery failure", "event_id", ev.ID, "error", err)
			}
		}
	}
}

func (d *Dispatcher) deliverOutbox(ctx context.Context, ev pgstore.OutboxEvent) error {
	var event ledger.Event
	if err := json.Unmarshal(ev.Payload, &event); err != nil {
		// A payload that cannot decode will never deliver; drop it.
		slog.Error("discarding undecodable event payload", "event_id", ev.ID, "error", err)
		return nil
	}
	return d.Deliver(ctx, event, strconv.FormatInt(ev.ID, 10))
}

// Deliver posts the event to every involved agent that has a webhook
// registered. It returns an error if any endpoint could not be
// reached, so the caller can retry the whole event; recipients are
// expected to dedupe on the delivery id.
func (d *Dispatcher) Deliver(ctx context.Context, event ledger.Event, deliveryID string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	var firstErr error
	for _, addr := range recipients(event) {
		ep, err := d.resolver.Endpoint(ctx, addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ep == nil || ep.URL == "" {
			continue
		}
		if err := d.post(ctx, ep, event, body, deliveryID); err != nil {
			if d.opts.Observer != nil {
				d.opts.Observer.DeliveryFailed(string(event.Type))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if d.opts.Observer != nil {
			d.opts.Observer.DeliverySucceeded(string(event.Type))
		}
	}
	return firstErr
}

func (d *Dispatcher) post(ctx context.Context, ep *Endpoint, event ledger.Event, body []byte, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderSignature, Signature(ep.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Pump delivers events from an in-memory store's channel. Used in
// development mode, where there is no durable outbox; delivery is
// fire-and-forget.
func (d *Dispatcher) Pump(ctx context.Context, events <-chan ledger.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := d.Deliver(ctx, ev, ev.At.UTC().Format(time.RFC3339Nano)); err != nil {
				slog.Warn("event delivery failed", "event_type", ev.Type, "error", err)
			}
		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

// recipients returns the distinct agent addresses involved in an
// event.
func recipients(event ledger.Event) []ledger.Address {
	var out []ledger.Address
	seen := map[ledger.Address]bool{}
	for _, a := range []ledger.Address{event.Agent, event.Requester, event.Worker} {
		if a.IsZero() || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// Signature computes the hex HMAC-SHA256 of the request body under
// the endpoint's secret, in the form "sha256=<hex>". Endpoints verify
// it with a constant-time compare.
func Signature(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
