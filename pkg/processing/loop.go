package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	customlog "github.com/unav/navclient/pkg/log"
)

// ErrLoopStopped is returned when submitting to a loop that is not running.
var ErrLoopStopped = errors.New("event loop not running")

// Task is a unit of work run on the loop goroutine.
type Task struct {
	Name string
	Run  func() error
}

// LoopMetrics tracks metrics for an event loop
type LoopMetrics struct {
	ProcessedCount    int64 `json:"processed"`
	ErrorCount        int64 `json:"errors"`
	QueuedCount       int64 `json:"queued"`
	DroppedCount      int64 `json:"dropped"`
	LastProcessedTime int64 `json:"last_processed_ns"`
	ProcessingTimeAvg int64 `json:"avg_us"` // in microseconds
	ProcessingTimeMax int64 `json:"max_us"` // in microseconds
}

// EventLoop runs every state-mutating handler on one goroutine, in
// submission order. Tasks never run concurrently with each other.
type EventLoop struct {
	name      string
	logger    customlog.Logger
	queue     chan Task
	queueSize int
	running   bool
	stopping  chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	metricsMu sync.Mutex
	metrics   LoopMetrics
}

// NewEventLoop creates a stopped loop with a bounded queue.
func NewEventLoop(name string, queueSize int, logger customlog.Logger) *EventLoop {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &EventLoop{
		name:      name,
		logger:    logger,
		queueSize: queueSize,
		queue:     make(chan Task, queueSize),
	}
}

// TrySubmit enqueues a task without blocking. A full queue drops the task
// and counts it; use this for frames, where the next one supersedes.
func (l *EventLoop) TrySubmit(task Task) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.running {
		l.logger.Warnf("%s loop not running, discarding %s", l.name, task.Name)
		return false
	}

	select {
	case l.queue <- task:
		l.metricsMu.Lock()
		l.metrics.QueuedCount++
		l.metricsMu.Unlock()
		return true
	default:
		l.metricsMu.Lock()
		l.metrics.DroppedCount++
		l.metricsMu.Unlock()
		l.logger.Debugf("%s loop queue is full, dropping %s", l.name, task.Name)
		return false
	}
}

// Submit enqueues a task, waiting for room until ctx is done. Use this for
// events that must not be lost, like teardowns and backend replies.
func (l *EventLoop) Submit(ctx context.Context, task Task) error {
	l.mu.RLock()
	if !l.running {
		l.mu.RUnlock()
		return fmt.Errorf("submit %s: %w", task.Name, ErrLoopStopped)
	}
	stopping := l.stopping
	l.mu.RUnlock()

	select {
	case l.queue <- task:
		l.metricsMu.Lock()
		l.metrics.QueuedCount++
		l.metricsMu.Unlock()
		return nil
	case <-stopping:
		return fmt.Errorf("submit %s: %w", task.Name, ErrLoopStopped)
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", task.Name, ctx.Err())
	}
}

// Call runs fn on the loop and waits for it to finish. Never call it from
// a task: the loop would wait on itself.
func (l *EventLoop) Call(ctx context.Context, name string, fn func() error) error {
	done := make(chan error, 1)
	err := l.Submit(ctx, Task{Name: name, Run: func() error {
		err := fn()
		done <- err
		return err
	}})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the loop goroutine.
func (l *EventLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	l.running = true
	l.stopping = make(chan struct{})
	l.logger.Infof("Starting %s event loop (queue %d)", l.name, l.queueSize)

	l.wg.Add(1)
	go l.run(l.stopping)
}

// Stop drains what is already queued and stops the goroutine.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopping)
	l.mu.Unlock()

	l.logger.Infof("Stopping %s event loop", l.name)
	l.wg.Wait()
	l.logger.Infof("%s event loop stopped", l.name)

	l.logMetrics()
}

func (l *EventLoop) run(stopping <-chan struct{}) {
	defer l.wg.Done()

	for {
		select {
		case task := <-l.queue:
			l.execute(task)
		case <-stopping:
			for {
				select {
				case task := <-l.queue:
					l.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (l *EventLoop) execute(task Task) {
	startTime := time.Now()
	err := l.safeRun(task)
	processingTime := time.Since(startTime).Microseconds()

	l.metricsMu.Lock()
	l.metrics.ProcessedCount++
	l.metrics.LastProcessedTime = time.Now().UnixNano()
	if l.metrics.ProcessingTimeAvg == 0 {
		l.metrics.ProcessingTimeAvg = processingTime
	} else {
		l.metrics.ProcessingTimeAvg = (l.metrics.ProcessingTimeAvg + processingTime) / 2
	}
	if processingTime > l.metrics.ProcessingTimeMax {
		l.metrics.ProcessingTimeMax = processingTime
	}
	if err != nil {
		l.metrics.ErrorCount++
	}
	l.metricsMu.Unlock()

	if err != nil {
		l.logger.Errorf("Error handling %s in %s loop: %v", task.Name, l.name, err)
	}
}

func (l *EventLoop) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if task.Run == nil {
		return nil
	}
	return task.Run()
}

// GetMetrics returns a copy of the current metrics
func (l *EventLoop) GetMetrics() LoopMetrics {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()

	return l.metrics
}

func (l *EventLoop) logMetrics() {
	m := l.GetMetrics()
	l.logger.Infof("%s loop metrics: processed=%d, dropped=%d, errors=%d, avg_time=%dµs, max_time=%dµs",
		l.name, m.ProcessedCount, m.DroppedCount, m.ErrorCount,
		m.ProcessingTimeAvg, m.ProcessingTimeMax)
}

// GetName returns the loop name
func (l *EventLoop) GetName() string {
	return l.name
}

// GetQueueLength returns the current length of the queue
func (l *EventLoop) GetQueueLength() int {
	return len(l.queue)
}

// GetQueueCapacity returns the capacity of the queue
func (l *EventLoop) GetQueueCapacity() int {
	return l.queueSize
}
