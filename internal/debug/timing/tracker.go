package timing

import (
	"context"
	"sort"
	"sync"
	"time"

	"leaf-lesion-detector/internal/logger"
)

type timingKey struct{}

type span struct {
	stage string
	start time.Time
}

// Tracker collects per-stage durations across every leaf processed by a run.
// It is safe for concurrent use by batch workers.
type Tracker struct {
	timings map[string][]time.Duration
	mu      sync.RWMutex
	logger  logger.Logger
	enabled bool
}

func NewTracker(log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Tracker{
		timings: make(map[string][]time.Duration),
		logger:  log,
		enabled: true,
	}
}

// StartTiming returns a child of ctx carrying the stage start time.
func (tt *Tracker) StartTiming(ctx context.Context, stage string) context.Context {
	if tt == nil || !tt.isEnabled() {
		return ctx
	}

	return context.WithValue(ctx, timingKey{}, span{stage: stage, start: time.Now()})
}

// EndTiming records the duration of the stage started on ctx.
func (tt *Tracker) EndTiming(ctx context.Context) time.Duration {
	if tt == nil || !tt.isEnabled() {
		return 0
	}

	s, ok := ctx.Value(timingKey{}).(span)
	if !ok {
		return 0
	}

	duration := time.Since(s.start)

	tt.mu.Lock()
	tt.timings[s.stage] = append(tt.timings[s.stage], duration)
	tt.mu.Unlock()

	tt.logger.Debug("Timing", "stage completed", map[string]interface{}{
		"stage":       s.stage,
		"duration_ms": float64(duration.Microseconds()) / 1000,
	})

	return duration
}

func (tt *Tracker) GetTimings(stage string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[stage]
	if timings == nil {
		return nil
	}

	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

// Stages lists every stage with at least one recorded duration, sorted.
func (tt *Tracker) Stages() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	stages := make([]string, 0, len(tt.timings))
	for stage := range tt.timings {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

func (tt *Tracker) GetAverageTime(stage string) time.Duration {
	timings := tt.GetTimings(stage)
	if len(timings) == 0 {
		return 0
	}

	var total time.Duration
	for _, duration := range timings {
		total += duration
	}

	return total / time.Duration(len(timings))
}

// LogSummary writes one info line per stage with its sample count and mean.
func (tt *Tracker) LogSummary() {
	for _, stage := range tt.Stages() {
		tt.logger.Info("Timing", "stage average", map[string]interface{}{
			"stage":      stage,
			"samples":    len(tt.GetTimings(stage)),
			"average_ms": float64(tt.GetAverageTime(stage).Microseconds()) / 1000,
		})
	}
}

// SetEnabled switches recording on or off. A disabled tracker returns ctx
// unchanged and records nothing.
func (tt *Tracker) SetEnabled(enabled bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.enabled = enabled
}

func (tt *Tracker) isEnabled() bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.enabled
}
