package metrics

import (
	"sort"
	"strings"
	"sync"
)

// MemorySink counts increments in process. It backs local runs and tests.
type MemorySink struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{counts: make(map[string]int64)}
}

// Increment adds one to the series identified by counter and labels.
func (m *MemorySink) Increment(counter string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[seriesKey(counter, labels)]++
	if len(labels) > 0 {
		m.counts[counter]++
	}
}

// Count returns the total for counter across all label sets, or the total for
// one label set when labels are given as key/value pairs.
func (m *MemorySink) Count(counter string, labelPairs ...string) int64 {
	labels := make(map[string]string, len(labelPairs)/2)
	for i := 0; i+1 < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[seriesKey(counter, labels)]
}

func seriesKey(counter string, labels map[string]string) string {
	if len(labels) == 0 {
		return counter
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(counter)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}
