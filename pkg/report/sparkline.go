package report

import (
	"strings"
	"sync"
)

// Sparkline keeps a rolling window of values for trend rendering.
type Sparkline struct {
	mu     sync.Mutex
	values []float64
	maxLen int
}

// NewSparkline creates a sparkline with a fixed window size.
func NewSparkline(maxLen int) *Sparkline {
	if maxLen < 1 {
		maxLen = 20
	}
	return &Sparkline{maxLen: maxLen}
}

// Record appends a value, dropping the oldest beyond the window.
func (s *Sparkline) Record(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
	if len(s.values) > s.maxLen {
		s.values = s.values[len(s.values)-s.maxLen:]
	}
}

// String renders the window with Unicode block characters.
func (s *Sparkline) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renderSparkline(s.values)
}

// sparkline block characters from lowest to highest
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

func renderSparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	var b strings.Builder
	rng := hi - lo
	top := len(sparkBlocks) - 1
	for _, v := range values {
		idx := 0
		if rng > 0 {
			idx = int((v - lo) / rng * float64(top))
		}
		b.WriteRune(sparkBlocks[min(max(idx, 0), top)])
	}
	return b.String()
}
