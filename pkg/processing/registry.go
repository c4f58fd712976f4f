package processing

import (
	"sync"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
)

// Delivery classes for feed events.
const (
	// DeliveryLossy events may be dropped when the loop is behind.
	DeliveryLossy = "LOSSY"
	// DeliveryReliable events wait for room in the loop queue.
	DeliveryReliable = "RELIABLE"
)

// KindInfo holds routing metadata and counters for one event kind
type KindInfo struct {
	Kind         feed.Kind `json:"kind"`
	Delivery     string    `json:"delivery"`
	Count        int64     `json:"count"`
	Dropped      int64     `json:"dropped"`
	LastReceived int64     `json:"last_received"`
}

// KindRegistry maintains delivery classes and stats per event kind
type KindRegistry struct {
	logger customlog.Logger
	kinds  map[feed.Kind]*KindInfo
	mu     sync.RWMutex
}

// NewKindRegistry creates a registry with the standard feed kinds.
// Camera frames are lossy since the next frame supersedes a dropped one;
// everything else is reliable.
func NewKindRegistry(logger customlog.Logger) *KindRegistry {
	r := &KindRegistry{
		logger: logger,
		kinds:  make(map[feed.Kind]*KindInfo),
	}
	r.Register(feed.KindCameraFrame, DeliveryLossy)
	r.Register(feed.KindRemoveCameraStream, DeliveryReliable)
	r.Register(feed.KindPlannerUpdate, DeliveryReliable)
	r.Register(feed.KindLog, DeliveryReliable)
	return r
}

// Register sets the delivery class for a kind, keeping existing counters.
func (r *KindRegistry) Register(kind feed.Kind, delivery string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.kinds[kind]; ok {
		info.Delivery = delivery
		return
	}
	r.kinds[kind] = &KindInfo{Kind: kind, Delivery: delivery}
}

// GetDelivery returns the delivery class for a kind
func (r *KindRegistry) GetDelivery(kind feed.Kind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.kinds[kind]
	if !exists {
		return "", false
	}
	return info.Delivery, true
}

// UpdateStats records a received event
func (r *KindRegistry) UpdateStats(kind feed.Kind, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.kinds[kind]
	if !exists {
		info = &KindInfo{Kind: kind, Delivery: DeliveryReliable}
		r.kinds[kind] = info
	}
	info.Count++
	info.LastReceived = timestamp
}

// RecordDrop counts an event the loop could not take
func (r *KindRegistry) RecordDrop(kind feed.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, exists := r.kinds[kind]; exists {
		info.Dropped++
	}
}

// GetKindStats returns a copy of every kind's info
func (r *KindRegistry) GetKindStats() map[feed.Kind]KindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[feed.Kind]KindInfo, len(r.kinds))
	for kind, info := range r.kinds {
		stats[kind] = *info
	}
	return stats
}
