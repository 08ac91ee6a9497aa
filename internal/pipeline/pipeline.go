// Package pipeline orchestrates the processing of one incoming
// notification end to end: settings snapshot, package filter, text
// extraction, relevance filter, dedup check, forward decision,
// persistence, and the presentation refresh signal.
//
// Each notification is an independent unit of work with no mid-run
// abort path beyond the defined early exits; once it survives the
// dedup check it produces exactly one store record.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"yapefwd/internal/dedup"
	"yapefwd/internal/eventbus"
	"yapefwd/internal/extract"
	"yapefwd/internal/sender"
	"yapefwd/internal/storage"
	logx "yapefwd/pkg/logx"
)

// SettingsStore is the settings collaborator consumed by the pipeline.
// *storage.Store satisfies it.
type SettingsStore interface {
	ServiceEnabled(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (storage.Snapshot, error)
	SetLastSeen(ctx context.Context, pkg, text string) error
}

// EventStore is the event-log collaborator consumed by the pipeline.
// *storage.Store satisfies it.
type EventStore interface {
	AppendEvent(ctx context.Context, e storage.CapturedEvent) (int64, error)
}

// Pipeline processes incoming notifications. It is safe for concurrent
// use: the dedup window serializes its own state, and settings/event
// writes are single durable operations of the collaborators.
type Pipeline struct {
	settings SettingsStore
	events   EventStore
	window   *dedup.Window
	snd      sender.Sender // nil means sending is unavailable
	bus      eventbus.Bus
	log      logx.Logger

	mu       sync.Mutex
	keywords []string

	now func() time.Time
}

type Option func(*Pipeline)

// WithClock replaces the capture-time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithKeywords overrides the built-in relevance keyword list.
func WithKeywords(kws []string) Option {
	return func(p *Pipeline) { p.keywords = append([]string(nil), kws...) }
}

func New(settings SettingsStore, events EventStore, window *dedup.Window, snd sender.Sender, bus eventbus.Bus, log logx.Logger, opts ...Option) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{
		settings: settings,
		events:   events,
		window:   window,
		snd:      snd,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.window == nil {
		p.window = dedup.New(dedup.DefaultWindow, dedup.DefaultMaxEntries)
	}
	return p
}

// SetKeywords swaps the relevance keyword list (config hot reload).
func (p *Pipeline) SetKeywords(kws []string) {
	p.mu.Lock()
	p.keywords = append([]string(nil), kws...)
	p.mu.Unlock()
}

func (p *Pipeline) currentKeywords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keywords
}

// Process runs one notification through the pipeline.
//
// A non-nil error means the store or settings collaborator failed and
// the whole attempt failed. There is no retry here; the source's own
// redelivery (guarded by dedup) provides eventual consistency.
// Extraction misses and delivery failures are not errors.
func (p *Pipeline) Process(ctx context.Context, n Notification) (Result, error) {
	enabled, err := p.settings.ServiceEnabled(ctx)
	if err != nil {
		return Result{}, err
	}
	if !enabled {
		return Result{Outcome: OutcomeDisabled}, nil
	}

	// One snapshot; every later decision uses this view even if
	// settings change mid-run.
	snap, err := p.settings.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	text := n.Extras.ContentText()

	if !snap.CaptureAll && !snap.Packages[n.Package] {
		return Result{Outcome: OutcomeIgnoredPackage}, nil
	}

	// Diagnostic state for any package that passed the filter.
	if err := p.settings.SetLastSeen(ctx, n.Package, text); err != nil {
		return Result{}, err
	}

	if text == "" {
		return Result{Outcome: OutcomeEmptyText}, nil
	}
	if !snap.CaptureAll && !extract.Relevant(text, p.currentKeywords()) {
		return Result{Outcome: OutcomeIrrelevant}, nil
	}
	if p.window.ShouldSkip(n.Key, n.PostTime, text) {
		p.log.Debug("notification skipped by dedup", logx.String("key", n.Key))
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	amount := extract.Amount(text)
	timeText := extract.Time(text)

	if snap.CaptureAll {
		id, err := p.events.AppendEvent(ctx, storage.CapturedEvent{
			Amount:    amount,
			Time:      timeText,
			Text:      text,
			Timestamp: p.now().UnixMilli(),
			Forwarded: false,
			Package:   n.Package,
		})
		if err != nil {
			return Result{}, err
		}
		p.log.Debug("captured (test mode)", logx.String("package", n.Package))
		p.notifyUpdated()
		return Result{Outcome: OutcomeCaptured, EventID: id}, nil
	}

	forwarded := false
	switch {
	case p.snd == nil:
		p.log.Warn("sender unavailable, skipping send")
	case len(snap.Addresses) == 0:
		p.log.Warn("no destinations configured")
	default:
		msg := buildMessage(text, amount, timeText)
		forwarded = true
		for _, addr := range snap.Addresses {
			if err := p.snd.Send(ctx, addr, msg); err != nil {
				forwarded = false
				p.log.Warn("delivery failed", logx.String("address", addr), logx.Err(err))
			} else {
				p.log.Debug("delivered", logx.String("address", addr))
			}
		}
	}

	if amount == "" {
		amount = extract.UnknownAmount
	}
	id, err := p.events.AppendEvent(ctx, storage.CapturedEvent{
		Amount:    amount,
		Time:      timeText,
		Text:      text,
		Timestamp: p.now().UnixMilli(),
		Forwarded: forwarded,
		Package:   n.Package,
	})
	if err != nil {
		return Result{}, err
	}
	p.notifyUpdated()
	return Result{Outcome: OutcomeRecorded, EventID: id, Forwarded: forwarded}, nil
}

func (p *Pipeline) notifyUpdated() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.TopicEventsUpdated})
}

// buildMessage composes the forwarded text: the raw notification text
// verbatim when present, otherwise a template with the extracted
// fields.
func buildMessage(text, amount, timeText string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	part := amount
	if part == "" {
		part = extract.UnknownAmount
	}
	if timeText != "" {
		return "Yape recibido: " + part + ". Hora: " + timeText + "."
	}
	return "Yape recibido: " + part + "."
}
