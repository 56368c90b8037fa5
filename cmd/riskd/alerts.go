package main

import (
	"context"
	"errors"
	"sync"

	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/notifications"
	"github.com/dyxium/dia-core/internal/safety"
)

const alertQueueSize = 32

// Alert delivery outcomes as exported in dia_core_alerts_total
const (
	alertSent    = "sent"
	alertDropped = "dropped"
	alertFailed  = "failed"
)

type transitionJournal interface {
	RecordTransition(ctx context.Context, a safety.Alert) (journal.Transition, error)
}

type alertRecorder interface {
	RecordAlert(status string)
}

// alertDispatcher moves guard transitions off the guard tick. It journals
// every transition and forwards it to the operators.
type alertDispatcher struct {
	queue    chan safety.Alert
	journal  transitionJournal
	notifier notifications.Notifier
	active   func(safety.Alert) (active, kept []string)
	metrics  alertRecorder
	logger   *logger.Logger

	mu     sync.Mutex
	closed bool
}

func newAlertDispatcher(j transitionJournal, n notifications.Notifier, active func(safety.Alert) ([]string, []string), m alertRecorder, log *logger.Logger) *alertDispatcher {
	return &alertDispatcher{
		queue:    make(chan safety.Alert, alertQueueSize),
		journal:  j,
		notifier: n,
		active:   active,
		metrics:  m,
		logger:   log,
	}
}

// Enqueue never blocks; a full or closed queue drops the alert
func (d *alertDispatcher) Enqueue(a safety.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.LogWarning("alerts", "dispatcher closed, dropping %s -> %s", a.From, a.To)
		d.record(alertDropped)
		return
	}

	select {
	case d.queue <- a:
	default:
		d.logger.LogWarning("alerts", "queue full, dropping %s -> %s", a.From, a.To)
		d.record(alertDropped)
	}
}

// Close stops intake. Run returns once everything queued before Close has
// been handled.
func (d *alertDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Run handles alerts until Close. Cancelling ctx does not stop it, so a
// transition produced by the guard's last tick is still journaled.
func (d *alertDispatcher) Run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for a := range d.queue {
		d.handle(ctx, a)
	}
}

// runGuard runs the guard and the dispatcher until ctx is cancelled. The
// dispatcher is closed only after the guard's in-flight tick has returned.
func runGuard(ctx context.Context, guard *safety.OverloadGuard, d *alertDispatcher) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()

	guard.Run(ctx)
	d.Close()
	wg.Wait()
}

func (d *alertDispatcher) handle(ctx context.Context, a safety.Alert) {
	if d.journal != nil {
		if _, err := d.journal.RecordTransition(ctx, a); err != nil {
			d.logger.LogError("alerts.journal", err)
		}
	}

	if d.notifier == nil {
		return
	}

	var active, kept []string
	if d.active != nil {
		active, kept = d.active(a)
	}
	level, message := notifications.FormatGuardAlert(a, active, kept)

	err := d.notifier.SendAlert(level, message)
	switch {
	case err == nil:
		d.record(alertSent)
	case errors.Is(err, notifications.ErrAlertDropped):
		d.logger.Debug("alert %s -> %s dropped by rate limit", a.From, a.To)
		d.record(alertDropped)
	default:
		d.logger.LogError("alerts.send", err)
		d.record(alertFailed)
	}
}

func (d *alertDispatcher) record(status string) {
	if d.metrics != nil {
		d.metrics.RecordAlert(status)
	}
}
