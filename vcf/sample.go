package vcf

import (
	"fmt"
	"sync"
)

// Process-wide sample-id interner.  Target and reference panels may carry
// overlapping sample sets; interning gives each identifier one stable index
// so per-sample data can be compared across panels.
var sampleInterner = struct {
	sync.Mutex
	names []string
	index map[string]int
}{index: map[string]int{}}

// InternSample returns the process-wide stable index for the sample id.
func InternSample(id string) int {
	sampleInterner.Lock()
	defer sampleInterner.Unlock()
	if idx, ok := sampleInterner.index[id]; ok {
		return idx
	}
	idx := len(sampleInterner.names)
	sampleInterner.names = append(sampleInterner.names, id)
	sampleInterner.index[id] = idx
	return idx
}

// SampleName returns the identifier for a process-wide sample index.
func SampleName(idx int) string {
	sampleInterner.Lock()
	defer sampleInterner.Unlock()
	return sampleInterner.names[idx]
}

// Samples is an ordered list of distinct samples from one panel.
type Samples struct {
	ids    []string
	global []int // process-wide interned index per list position
}

// NewSamples builds a Samples list, rejecting duplicate identifiers.
func NewSamples(ids []string) (*Samples, error) {
	s := &Samples{ids: ids, global: make([]int, len(ids))}
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("duplicate sample id %q", id)
		}
		seen[id] = true
		s.global[i] = InternSample(id)
	}
	return s, nil
}

// NSamples returns the number of samples.
func (s *Samples) NSamples() int { return len(s.ids) }

// Name returns the i-th sample identifier.
func (s *Samples) Name(i int) string { return s.ids[i] }

// GlobalIdx returns the process-wide interned index of the i-th sample.
func (s *Samples) GlobalIdx(i int) int { return s.global[i] }

// IDs returns the identifier slice.  Callers must not modify it.
func (s *Samples) IDs() []string { return s.ids }
