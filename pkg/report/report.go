// Package report summarizes a run: per-iteration timing statistics, the
// background loading wait and a duration trend, rendered as a styled table or
// JSON.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultWindow is the number of most recent iterations kept for statistics.
const DefaultWindow = 4096

// Summary is the outcome of a run.
type Summary struct {
	Session     string        `json:"session"`
	Loop        string        `json:"loop"`
	Loading     string        `json:"loading"`
	Iterations  uint32        `json:"iterations"`
	Window      int           `json:"window"`
	Mean        time.Duration `json:"mean_ns"`
	Min         time.Duration `json:"min_ns"`
	Max         time.Duration `json:"max_ns"`
	P50         time.Duration `json:"p50_ns"`
	P95         time.Duration `json:"p95_ns"`
	P99         time.Duration `json:"p99_ns"`
	StdDevMs    float64       `json:"stddev_ms"`
	Overshoot   time.Duration `json:"overshoot_ns"`
	LoadingWait time.Duration `json:"loading_wait_ns"`
	LoadingErr  string        `json:"loading_error,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Trend       string        `json:"trend"`
}

// Collector accumulates iteration timings. It is safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	window     int
	iterations uint32
	elapsed    []time.Duration
	overshoot  time.Duration
	trend      *Sparkline
}

// NewCollector creates a collector keeping the last window iterations.
func NewCollector(window int) *Collector {
	if window < 1 {
		window = DefaultWindow
	}
	return &Collector{
		window: window,
		trend:  NewSparkline(40),
	}
}

// Record adds one iteration: the sampled sleep and the measured wall time.
func (c *Collector) Record(number uint32, sampled, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.iterations = max(c.iterations, number)
	c.elapsed = append(c.elapsed, elapsed)
	if len(c.elapsed) > c.window {
		c.elapsed = c.elapsed[len(c.elapsed)-c.window:]
	}
	if elapsed > sampled {
		c.overshoot += elapsed - sampled
	}
	c.trend.Record(float64(elapsed.Microseconds()))
}

// Summary computes statistics over the recorded window. Run-level fields
// (session, loop, loading, wait, elapsed) are left for the caller.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	sorted := make([]time.Duration, len(c.elapsed))
	copy(sorted, c.elapsed)
	s := Summary{
		Iterations: c.iterations,
		Window:     len(sorted),
		Overshoot:  c.overshoot,
	}
	c.mu.Unlock()

	s.Trend = c.trend.String()
	if len(sorted) == 0 {
		return s
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	ms := make([]float64, len(sorted))
	for i, d := range sorted {
		sum += d
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	s.Mean = sum / time.Duration(len(sorted))
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P50 = percentile(sorted, 0.50)
	s.P95 = percentile(sorted, 0.95)
	s.P99 = percentile(sorted, 0.99)
	s.StdDevMs = stddev(ms)
	return s
}

// Save writes the summary as indented JSON, creating parent directories.
func (s Summary) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create report directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write report: %w", err)
	}
	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	variance := (sumSq / n) - (mean * mean)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
