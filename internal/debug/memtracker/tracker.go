package memtracker

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"leaf-lesion-detector/internal/logger"
)

type AllocationInfo struct {
	ID          uint64
	Size        int64
	Tag         string
	AllocatedAt time.Time
	StackTrace  []uintptr
}

type MemoryStats struct {
	TotalAllocated   int64
	TotalDeallocated int64
	CurrentlyActive  int64
	AllocationCount  int64
	UntrackedCount   int64
}

// Tracker records live native Mats by id. It satisfies safe.MemoryTracker
// and is safe for concurrent use by batch workers.
type Tracker struct {
	allocations  map[uint64]AllocationInfo
	mu           sync.RWMutex
	stackTraces  bool
	totalAlloc   int64
	totalDealloc int64
	allocCount   int64
	untracked    int64
}

func NewTracker(enableStackTraces bool) *Tracker {
	return &Tracker{
		allocations: make(map[uint64]AllocationInfo),
		stackTraces: enableStackTraces,
	}
}

func (mt *Tracker) TrackAllocation(id uint64, size int64, tag string) {
	atomic.AddInt64(&mt.totalAlloc, size)
	atomic.AddInt64(&mt.allocCount, 1)

	info := AllocationInfo{
		ID:          id,
		Size:        size,
		Tag:         tag,
		AllocatedAt: time.Now(),
	}

	mt.mu.Lock()
	if mt.stackTraces {
		var pcs [32]uintptr
		n := runtime.Callers(3, pcs[:])
		info.StackTrace = pcs[:n]
	}
	mt.allocations[id] = info
	mt.mu.Unlock()
}

// TrackDeallocation forgets id. Releasing a Mat the tracker never saw is
// counted as untracked.
func (mt *Tracker) TrackDeallocation(id uint64, tag string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	info, exists := mt.allocations[id]
	if exists {
		delete(mt.allocations, id)
		atomic.AddInt64(&mt.totalDealloc, info.Size)
	} else {
		atomic.AddInt64(&mt.untracked, 1)
	}
}

// Active returns the live allocations, oldest first.
func (mt *Tracker) Active() []AllocationInfo {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]AllocationInfo, 0, len(mt.allocations))
	for _, info := range mt.allocations {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (mt *Tracker) GetStats() MemoryStats {
	mt.mu.RLock()
	currentlyActive := int64(len(mt.allocations))
	mt.mu.RUnlock()

	return MemoryStats{
		TotalAllocated:   atomic.LoadInt64(&mt.totalAlloc),
		TotalDeallocated: atomic.LoadInt64(&mt.totalDealloc),
		CurrentlyActive:  currentlyActive,
		AllocationCount:  atomic.LoadInt64(&mt.allocCount),
		UntrackedCount:   atomic.LoadInt64(&mt.untracked),
	}
}

// DetectLeaks returns the live allocations created at least olderThan ago,
// oldest first.
func (mt *Tracker) DetectLeaks(olderThan time.Duration) []AllocationInfo {
	threshold := time.Now().Add(-olderThan)

	var leaks []AllocationInfo
	for _, info := range mt.Active() {
		if !info.AllocatedAt.After(threshold) {
			leaks = append(leaks, info)
		}
	}
	return leaks
}

// LogSummary reports the totals at debug level and every Mat allocated
// before the call and still alive as a warning.
func (mt *Tracker) LogSummary(log logger.Logger) {
	stats := mt.GetStats()
	log.Debug("MemoryTracker", "native memory summary", map[string]interface{}{
		"allocations":       stats.AllocationCount,
		"bytes_allocated":   stats.TotalAllocated,
		"bytes_released":    stats.TotalDeallocated,
		"active":            stats.CurrentlyActive,
		"untracked_release": stats.UntrackedCount,
	})

	for _, info := range mt.DetectLeaks(0) {
		log.Warning("MemoryTracker", "Mat still allocated", map[string]interface{}{
			"id":   info.ID,
			"tag":  info.Tag,
			"size": info.Size,
			"age":  time.Since(info.AllocatedAt).String(),
		})
	}
}
