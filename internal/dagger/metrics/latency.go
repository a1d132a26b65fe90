package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LatencyTracker tracks step latency quantiles using DDSketch.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

// NewLatencyTracker creates a new latency tracker.
// relativeAccuracy is the accuracy of quantile estimates (0.01 = 1%).
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a duration for the given step.
func (lt *LatencyTracker) Record(step string, duration time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, exists := lt.sketches[step]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[step] = sketch
	}

	// milliseconds
	_ = sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Stats summarizes one step.
type Stats struct {
	Step  string
	Count int64
	Min   float64
	P50   float64
	P99   float64
	Max   float64
	Sum   float64
}

// GetStats returns statistics for the given step.
func (lt *LatencyTracker) GetStats(step string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(step)
}

// GetAllStats returns statistics for all steps sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	stats := make([]Stats, 0, len(lt.sketches))
	for step := range lt.sketches {
		if stat, err := lt.statsLocked(step); err == nil {
			stats = append(stats, stat)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Step < stats[j].Step })
	return stats
}

func (lt *LatencyTracker) statsLocked(step string) (Stats, error) {
	sketch, exists := lt.sketches[step]
	if !exists {
		return Stats{}, fmt.Errorf("no data for step: %s", step)
	}
	count := sketch.GetCount()
	if count == 0 {
		return Stats{Step: step}, nil
	}
	minValue, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	maxValue, _ := sketch.GetMaxValue()
	return Stats{
		Step:  step,
		Count: int64(count),
		Min:   minValue,
		P50:   p50,
		P99:   p99,
		Max:   maxValue,
		Sum:   sketch.GetSum(),
	}, nil
}

// String formats the statistics for the verbose summary.
func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Step)
	}
	if s.Count == 1 {
		return fmt.Sprintf("%s: %.0fms", s.Step, s.Sum)
	}
	return fmt.Sprintf("%s (n=%d): total=%.0fms min=%.0fms p50=%.0fms p99=%.0fms max=%.0fms",
		s.Step, s.Count, s.Sum, s.Min, s.P50, s.P99, s.Max)
}
