// Package pipeline turns accepted events into push notifications. It
// records the event, expands candidate recipients, runs the decision
// cascade, and fans dispatches out to the push transport.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"notepush/internal/apns"
	"notepush/internal/filter"
	"notepush/internal/metrics"
	"notepush/internal/model"
	"notepush/internal/nostr"
	"notepush/internal/storage"
)

// PushTransport delivers one notification. Implementations classify
// failures with apns.ErrBadDeviceToken and apns.ErrRejected; any other
// error is treated as transient.
type PushTransport interface {
	Send(ctx context.Context, n apns.Notification) error
}

// FollowSource returns a recipient's current contact list.
type FollowSource interface {
	FollowsFor(ctx context.Context, pubkey string) (*nostr.FollowSet, error)
}

// Report summarizes the processing of one event.
type Report struct {
	// Received is false when the event was a duplicate and nothing
	// else was done.
	Received          bool
	Considered        int
	Dispatched        int
	Purged            int
	TransientFailures int
	Skipped           int
}

// Options bound the pipeline's concurrency and scope.
type Options struct {
	// DispatchConcurrency caps simultaneous in-flight sends.
	DispatchConcurrency int64
	// SendTimeout bounds one transport send.
	SendTimeout time.Duration
	// MaxEventAge drops events created too far in the past.
	MaxEventAge time.Duration
}

// Pipeline processes events end to end. It is safe for concurrent use;
// uniqueness constraints in storage arbitrate races between events.
type Pipeline struct {
	log       *slog.Logger
	store     storage.Storage
	cascade   *filter.Cascade
	follows   FollowSource
	transport PushTransport

	sem         *semaphore.Weighted
	sendTimeout time.Duration
	maxEventAge time.Duration

	now func() time.Time
}

// New builds a pipeline.
func New(log *slog.Logger, store storage.Storage, cascade *filter.Cascade, follows FollowSource, transport PushTransport, opts Options) *Pipeline {
	if opts.DispatchConcurrency <= 0 {
		opts.DispatchConcurrency = 16
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.MaxEventAge <= 0 {
		opts.MaxEventAge = 7 * 24 * time.Hour
	}
	return &Pipeline{
		log:         log,
		store:       store,
		cascade:     cascade,
		follows:     follows,
		transport:   transport,
		sem:         semaphore.NewWeighted(opts.DispatchConcurrency),
		sendTimeout: opts.SendTimeout,
		maxEventAge: opts.MaxEventAge,
		now:         time.Now,
	}
}

// Process handles one event. Only a failure to record the event itself
// or to render its push payload returns an error; everything else
// degrades per recipient.
func (p *Pipeline) Process(ctx context.Context, event *nostr.Event) (Report, error) {
	var report Report

	firstSeen, err := p.store.RecordReceived(ctx, event.ID, event.PubKey, event.Kind, p.now())
	if err != nil {
		return report, fmt.Errorf("record received: %w", err)
	}
	if !firstSeen {
		metrics.EventsReceived.WithLabelValues("duplicate").Inc()
		return report, nil
	}
	metrics.EventsReceived.WithLabelValues("new").Inc()
	report.Received = true

	if p.now().Sub(event.CreatedAtTime()) > p.maxEventAge {
		p.log.Debug("skipping stale event", "event_id", event.ID, "created_at", event.CreatedAt)
		return report, nil
	}

	candidates := p.candidates(ctx, event)
	report.Considered = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	payload, err := BuildPayload(event)
	if err != nil {
		return report, fmt.Errorf("build payload: %w", err)
	}

	// Dispatch goroutines mutate the report under mu; the main loop
	// keeps its own skip count and folds it in after the wait.
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		skipped int
	)
	for _, recipient := range candidates {
		devices, skip := p.eligibleDevices(ctx, event, recipient)
		if skip {
			skipped++
			continue
		}

		for _, d := range devices {
			n := apns.Notification{
				DeviceToken: d.Token,
				EventID:     event.ID,
				CreatedAt:   event.CreatedAt,
				Payload:     payload,
			}
			wg.Add(1)
			go func(recipient string, n apns.Notification) {
				defer wg.Done()
				outcome := p.send(ctx, recipient, n)
				if outcome == sendOK {
					// The row lands only after a delivered push, so a
					// recipient whose sends all fail keeps no record.
					// Sibling device sends race here; the insert is
					// idempotent and the loser is a no-op.
					if _, err := p.store.RecordSent(ctx, n.EventID, recipient, p.now()); err != nil {
						p.log.Error("recording notification failed", "event_id", n.EventID, "recipient", recipient, "error", err)
					}
				}
				mu.Lock()
				switch outcome {
				case sendOK:
					report.Dispatched++
				case sendPurged:
					report.Purged++
				case sendTransient:
					report.TransientFailures++
				case sendRejected:
					report.Skipped++
				}
				mu.Unlock()
			}(recipient, n)
		}
	}
	wg.Wait()
	report.Skipped += skipped

	return report, nil
}

// candidates returns the ordered, de-duplicated recipients to consider:
// the event's p-tag pubkeys plus everyone previously notified about an
// event this one references.
func (p *Pipeline) candidates(ctx context.Context, event *nostr.Event) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(pk string) {
		if _, ok := seen[pk]; ok {
			return
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}

	for _, pk := range event.ReferencedPubkeys() {
		add(pk)
	}
	for _, id := range event.ReferencedEventIDs() {
		watchers, err := p.store.PubkeysNotifiedFor(ctx, id)
		if err != nil {
			p.log.Error("thread watcher lookup failed", "event_id", id, "error", err)
			continue
		}
		for _, pk := range watchers {
			add(pk)
		}
	}
	return out
}

// eligibleDevices runs the cascade and per-device preference checks.
// skip is true when the recipient should be counted as skipped: the
// cascade suppressed them, a lookup failed, they have no registered
// devices, or no device passes its preference checks.
func (p *Pipeline) eligibleDevices(ctx context.Context, event *nostr.Event, recipient string) ([]model.Device, bool) {
	decision, err := p.cascade.Check(ctx, event, recipient)
	if err != nil {
		p.log.Error("cascade check failed", "event_id", event.ID, "recipient", recipient, "error", err)
		return nil, true
	}
	if !decision.Allow {
		return nil, true
	}

	devices, err := p.store.DevicesFor(ctx, recipient)
	if err != nil {
		p.log.Error("device lookup failed", "recipient", recipient, "error", err)
		return nil, true
	}
	if len(devices) == 0 {
		return nil, true
	}

	var eligible []model.Device
	var follows *nostr.FollowSet
	for _, d := range devices {
		if !d.Settings.AllowsKind(event.Kind) {
			continue
		}
		if d.Settings.OnlyNotificationsFromFollowingEnabled {
			if follows == nil {
				f, err := p.follows.FollowsFor(ctx, recipient)
				if err != nil {
					// Cannot verify the relationship; deliver rather
					// than silently drop.
					p.log.Error("contact list fetch failed", "recipient", recipient, "error", err)
					f = &nostr.FollowSet{Pubkeys: map[string]struct{}{event.PubKey: {}}}
				}
				follows = f
			}
			if !follows.Follows(event.PubKey) {
				continue
			}
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return nil, true
	}
	return eligible, false
}

type sendOutcome int

const (
	sendOK sendOutcome = iota
	sendPurged
	sendRejected
	sendTransient
)

func (p *Pipeline) send(ctx context.Context, recipient string, n apns.Notification) sendOutcome {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return sendTransient
	}
	defer p.sem.Release(1)

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	err := p.transport.Send(sendCtx, n)
	switch {
	case err == nil:
		metrics.NotificationsSent.Inc()
		return sendOK
	case errors.Is(err, apns.ErrBadDeviceToken):
		p.log.Info("purging dead device token", "recipient", recipient, "error", err)
		if rmErr := p.store.RemoveDevice(ctx, recipient, n.DeviceToken); rmErr != nil {
			p.log.Error("removing dead device failed", "recipient", recipient, "error", rmErr)
		}
		metrics.DevicesPurged.Inc()
		return sendPurged
	case errors.Is(err, apns.ErrRejected):
		p.log.Warn("push rejected", "event_id", n.EventID, "recipient", recipient, "error", err)
		return sendRejected
	default:
		p.log.Warn("push failed", "event_id", n.EventID, "recipient", recipient, "error", err)
		metrics.TransientSendFailures.Inc()
		return sendTransient
	}
}
