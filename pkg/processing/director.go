package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
)

// EventHandler applies one feed event. It runs on the event loop.
type EventHandler func(ev feed.Event) error

// EventDirector routes feed events onto the event loop according to their
// delivery class.
type EventDirector struct {
	logger        customlog.Logger
	loop          *EventLoop
	registry      *KindRegistry
	handlers      map[feed.Kind][]EventHandler
	submitTimeout time.Duration
	running       bool
	mu            sync.RWMutex
}

// DirectorOptions holds configuration options for the EventDirector
type DirectorOptions struct {
	// SubmitTimeout bounds how long a reliable event waits for queue room.
	SubmitTimeout time.Duration
}

// NewEventDirector creates a new event director
func NewEventDirector(
	loop *EventLoop,
	registry *KindRegistry,
	logger customlog.Logger,
	options *DirectorOptions,
) *EventDirector {
	if options == nil {
		options = &DirectorOptions{SubmitTimeout: 5 * time.Second}
	}

	return &EventDirector{
		logger:        logger,
		loop:          loop,
		registry:      registry,
		handlers:      make(map[feed.Kind][]EventHandler),
		submitTimeout: options.SubmitTimeout,
	}
}

// Handle adds a handler for a kind. Handlers for the same kind run in
// registration order within one loop task.
func (d *EventDirector) Handle(kind feed.Kind, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], handler)
}

// RouteEvent hands an event to the loop. It is the feed client's handler.
func (d *EventDirector) RouteEvent(ev feed.Event) error {
	d.mu.RLock()
	running := d.running
	handlers := d.handlers[ev.Kind]
	d.mu.RUnlock()

	if !running {
		return fmt.Errorf("event director is not running")
	}

	d.registry.UpdateStats(ev.Kind, ev.Received.UnixNano())

	if len(handlers) == 0 {
		d.logger.Debugf("No handler for %s event, ignoring", ev.Kind)
		return nil
	}

	task := Task{
		Name: string(ev.Kind),
		Run: func() error {
			for _, h := range handlers {
				if err := h(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}

	delivery, _ := d.registry.GetDelivery(ev.Kind)
	if delivery == DeliveryLossy {
		if !d.loop.TrySubmit(task) {
			d.registry.RecordDrop(ev.Kind)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.submitTimeout)
	defer cancel()
	if err := d.loop.Submit(ctx, task); err != nil {
		d.registry.RecordDrop(ev.Kind)
		return fmt.Errorf("failed to enqueue %s event: %w", ev.Kind, err)
	}
	return nil
}

// Handler adapts RouteEvent to feed.Handler, logging failures.
func (d *EventDirector) Handler() feed.Handler {
	return func(ev feed.Event) {
		if err := d.RouteEvent(ev); err != nil {
			d.logger.Warnf("%v", err)
		}
	}
}

// Start starts the event loop
func (d *EventDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.logger.Infof("Starting Event Director")
	d.loop.Start()
}

// Stop stops the event loop
func (d *EventDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping Event Director")
	d.loop.Stop()
	d.logger.Infof("Event Director stopped")
}

// Loop returns the loop the director feeds.
func (d *EventDirector) Loop() *EventLoop {
	return d.loop
}

// GetLoopMetrics returns the loop's metrics
func (d *EventDirector) GetLoopMetrics() LoopMetrics {
	return d.loop.GetMetrics()
}

// GetKindStats returns per-kind counters
func (d *EventDirector) GetKindStats() map[feed.Kind]KindInfo {
	return d.registry.GetKindStats()
}
