package navigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/processing"
)

// Runner feeds messages to a Navigator through the event loop and runs the
// commands it returns.
type Runner struct {
	nav     *Navigator
	loop    *processing.EventLoop
	logger  customlog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. submitTimeout bounds how long Send waits for
// room in the loop's queue.
func NewRunner(n *Navigator, loop *processing.EventLoop, logger customlog.Logger, submitTimeout time.Duration) *Runner {
	if submitTimeout <= 0 {
		submitTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		nav:     n,
		loop:    loop,
		logger:  logger,
		timeout: submitTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Navigator returns the driven navigator.
func (r *Runner) Navigator() *Navigator { return r.nav }

// Send queues msg for the loop.
func (r *Runner) Send(msg Msg) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	return r.loop.Submit(ctx, processing.Task{
		Name: fmt.Sprintf("navigator %T", msg),
		Run: func() error {
			r.Apply(msg)
			return nil
		},
	})
}

// Do applies msg on the loop and returns the snapshot taken right after.
// Must not be called from the loop.
func (r *Runner) Do(ctx context.Context, msg Msg) (Snapshot, error) {
	var snap Snapshot
	err := r.loop.Call(ctx, fmt.Sprintf("navigator %T", msg), func() error {
		r.Apply(msg)
		snap = r.nav.Snapshot()
		return nil
	})
	return snap, err
}

// Apply updates the navigator on the calling goroutine, which must be the
// loop's, and starts the returned command.
func (r *Runner) Apply(msg Msg) {
	cmd := r.nav.Update(msg)
	if cmd == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res := cmd(r.ctx)
		if res == nil || r.ctx.Err() != nil {
			return
		}
		if err := r.Send(res); err != nil {
			r.logger.Debugf("Dropping %T result: %v", res, err)
		}
	}()
}

// RegisterFeedHandlers routes planner_update and log events to the
// navigator. The director runs handlers on the loop.
func (r *Runner) RegisterFeedHandlers(d *processing.EventDirector) {
	d.Handle(feed.KindPlannerUpdate, func(ev feed.Event) error {
		if ev.Planner == nil {
			return &feed.ProtocolError{Kind: ev.Kind, Reason: "missing planner payload"}
		}
		r.Apply(PlannerUpdate{SessionID: ev.SessionID, Update: ev.Planner})
		return nil
	})
	d.Handle(feed.KindLog, func(ev feed.Event) error {
		r.logger.Infof("server: %s", ev.Message)
		r.Apply(ServerLog{Line: ev.Message})
		return nil
	})
}

// Stop cancels in-flight commands and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}
