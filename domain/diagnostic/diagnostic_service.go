package diagnostic

import (
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/processing"
)

// SystemMetrics is the diagnostics report
type SystemMetrics struct {
	Timestamp      time.Time                         `json:"timestamp"`
	Uptime         string                            `json:"uptime"`
	Goroutines     int                               `json:"goroutines"`
	HeapAllocBytes uint64                            `json:"heap_alloc_bytes"`
	Feed           *feed.Stats                       `json:"feed,omitempty"`
	Loop           processing.LoopMetrics            `json:"loop"`
	QueueLength    int                               `json:"queue_length"`
	QueueCapacity  int                               `json:"queue_capacity"`
	Kinds          map[feed.Kind]processing.KindInfo `json:"kinds"`
	ActiveSessions int                               `json:"active_sessions"`
	MonitorClients int                               `json:"monitor_clients"`
	MonitorDropped uint64                            `json:"monitor_dropped"`
}

// FeedSource reports feed client counters.
type FeedSource interface {
	Stats() feed.Stats
}

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// MonitorSource reports browser push counters.
type MonitorSource interface {
	Clients() int
	Dropped() uint64
}

// Sources are the components diagnostics read from. Nil fields are
// skipped.
type Sources struct {
	Feed     FeedSource
	Director *processing.EventDirector
	Sessions SessionCounter
	Monitor  MonitorSource
}

// DiagnosticService handles system diagnostics
type DiagnosticService struct {
	sources Sources
	logger  customlog.Logger
	started time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(sources Sources, logger customlog.Logger) *DiagnosticService {
	return &DiagnosticService{
		sources: sources,
		logger:  logger,
		started: time.Now(),
	}
}

// GetMetrics collects a fresh report.
func (s *DiagnosticService) GetMetrics() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Timestamp:      time.Now(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		Kinds:          map[feed.Kind]processing.KindInfo{},
	}
	if s.sources.Feed != nil {
		st := s.sources.Feed.Stats()
		m.Feed = &st
	}
	if d := s.sources.Director; d != nil {
		m.Loop = d.GetLoopMetrics()
		m.QueueLength = d.Loop().GetQueueLength()
		m.QueueCapacity = d.Loop().GetQueueCapacity()
		m.Kinds = d.GetKindStats()
	}
	if s.sources.Sessions != nil {
		m.ActiveSessions = s.sources.Sessions.Len()
	}
	if s.sources.Monitor != nil {
		m.MonitorClients = s.sources.Monitor.Clients()
		m.MonitorDropped = s.sources.Monitor.Dropped()
	}
	return m
}

// GetMetricsHandler handles API requests for system metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}

// Start logs a one-line summary every interval until Stop.
func (s *DiagnosticService) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil || interval <= 0 {
		return
	}
	s.stopChan = make(chan struct{})
	stop := s.stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m := s.GetMetrics()
				var received, protoErrs uint64
				if m.Feed != nil {
					received, protoErrs = m.Feed.Received, m.Feed.ProtocolErrors
				}
				s.logger.Infof("Diagnostics: sessions=%d feed_received=%d protocol_errors=%d loop_processed=%d loop_dropped=%d queue=%d/%d",
					m.ActiveSessions, received, protoErrs, m.Loop.ProcessedCount, m.Loop.DroppedCount, m.QueueLength, m.QueueCapacity)
			case <-stop:
				return
			}
		}
	}()
}

// Stop ends periodic logging.
func (s *DiagnosticService) Stop() {
	s.mu.Lock()
	stop := s.stopChan
	s.stopChan = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
}
