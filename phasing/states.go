package phasing

import (
	"math/rand"
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/phase/vcf"
)

// baseMinSteps scales (by the step scale factor) into the minimum age, in
// steps, before a composite slot may be recycled to a new haplotype.
const baseMinSteps = 200

// compSeg is one mosaic piece of a composite reference haplotype: hap
// serves the HiFreq markers up to (excluding) end.
type compSeg struct {
	hap int32
	end int32
}

// slotKey orders composite slots by the step at which their haplotype was
// last observed, oldest first.  Entries become stale when the slot sees a
// newer event; staleness is resolved lazily at the head of the queue.
type slotKey struct {
	step int32
	slot int32
}

// Compare implements llrb.Comparable.
func (k slotKey) Compare(c llrb.Comparable) int {
	o := c.(slotKey)
	if k.step != o.step {
		return int(k.step - o.step)
	}
	return int(k.slot - o.slot)
}

// CompStates is the HMM state space for one target haplotype or sample
// pair: at most maxStates composite reference haplotypes, each a mosaic of
// real haplotypes joined at step-midpoint splice markers and covering
// every HiFreq marker.
type CompStates struct {
	fd       *FixedData
	snapshot *vcf.HapsGT
	segs     [][]compSeg
}

// stateBuilder implements the greedy priority-queue construction.
type stateBuilder struct {
	fd        *FixedData
	cs        *CodedSteps
	maxStates int
	minSteps  int32

	tree       llrb.Tree
	slotHap    []int32
	slotLatest []int32
	segs       [][]compSeg
	hapToSlot  map[int32]int32
}

// buildStates consumes the neighbour streams of the given target
// haplotypes in step order and returns the composite state space.
func buildStates(fd *FixedData, cs *CodedSteps, nb *pbwtNeighbors, lf [][]int32,
	haps []int, maxStates int, snapshot *vcf.HapsGT, rng *rand.Rand) *CompStates {
	b := &stateBuilder{
		fd:        fd,
		cs:        cs,
		maxStates: maxStates,
		minSteps:  int32(float64(baseMinSteps) * fd.Opts.scaleFactor()),
		hapToSlot: map[int32]int32{},
	}
	if b.minSteps < 1 {
		b.minSteps = 1
	}
	for k := 0; k < cs.NSteps(); k++ {
		for _, h := range haps {
			if c := nb.fwd[k][h]; c >= 0 {
				b.addEvent(c, int32(k))
			}
			if c := nb.bwd[k][h]; c >= 0 {
				b.addEvent(c, int32(k))
			}
			if lf != nil {
				if c := lf[k][h]; c >= 0 {
					b.addEvent(c, int32(k))
				}
			}
		}
	}
	return b.finish(haps, snapshot, rng)
}

// addEvent registers that haplotype hap was observed as a neighbour at
// step.
func (b *stateBuilder) addEvent(hap, step int32) {
	if slot, ok := b.hapToSlot[hap]; ok {
		b.slotLatest[slot] = step
		return
	}
	b.refreshHead()
	if len(b.slotHap) < b.maxStates {
		slot := int32(len(b.slotHap))
		b.slotHap = append(b.slotHap, hap)
		b.slotLatest = append(b.slotLatest, step)
		b.segs = append(b.segs, nil)
		b.hapToSlot[hap] = slot
		b.tree.Insert(slotKey{step: step, slot: slot})
		return
	}
	head := b.tree.Min().(slotKey)
	if head.step >= step-b.minSteps {
		return // the oldest slot is too fresh to recycle
	}
	b.tree.DeleteMin()
	slot := head.slot
	oldHap := b.slotHap[slot]
	splice := int32(b.cs.Start(int((head.step + step) / 2)))
	if n := len(b.segs[slot]); n > 0 && splice < b.segs[slot][n-1].end {
		splice = b.segs[slot][n-1].end
	}
	b.segs[slot] = append(b.segs[slot], compSeg{hap: oldHap, end: splice})
	delete(b.hapToSlot, oldHap)
	b.hapToSlot[hap] = slot
	b.slotHap[slot] = hap
	b.slotLatest[slot] = step
	b.tree.Insert(slotKey{step: step, slot: slot})
}

// refreshHead reinserts queue heads whose key lags the slot's latest
// observed step.
func (b *stateBuilder) refreshHead() {
	for b.tree.Len() > 0 {
		head := b.tree.Min().(slotKey)
		latest := b.slotLatest[head.slot]
		if latest > head.step {
			b.tree.DeleteMin()
			b.tree.Insert(slotKey{step: latest, slot: head.slot})
			continue
		}
		return
	}
}

// finish terminates every slot's segment list at the end of the marker
// range.  An empty queue falls back to random non-self haplotypes.
func (b *stateBuilder) finish(haps []int, snapshot *vcf.HapsGT, rng *rand.Rand) *CompStates {
	nMarkers := int32(b.fd.NHiFreq())
	if len(b.slotHap) == 0 {
		self := map[int]bool{}
		for _, h := range haps {
			self[h/2] = true
		}
		n := b.fd.NHaps - 2
		if n > b.maxStates {
			n = b.maxStates
		}
		for guard := 0; len(b.segs) < n && guard < 64*n+64; guard++ {
			h := rng.Intn(b.fd.NHaps)
			if h < b.fd.NTargHaps && self[h/2] {
				continue
			}
			b.segs = append(b.segs, []compSeg{{hap: int32(h), end: nMarkers}})
		}
		if len(b.segs) == 0 {
			// Degenerate single-sample input: fall back to the sample's own
			// haplotypes rather than an empty state space.
			for _, h := range haps {
				b.segs = append(b.segs, []compSeg{{hap: int32(h), end: nMarkers}})
			}
		}
	} else {
		for slot, hap := range b.slotHap {
			b.segs[slot] = append(b.segs[slot], compSeg{hap: hap, end: nMarkers})
		}
	}
	return &CompStates{fd: b.fd, snapshot: snapshot, segs: b.segs}
}

// NStates returns the number of composite slots.
func (st *CompStates) NStates() int { return len(st.segs) }

// Hap returns the real haplotype serving slot k at HiFreq marker j.
func (st *CompStates) Hap(j, k int) int {
	segs := st.segs[k]
	i := sort.Search(len(segs), func(i int) bool { return segs[i].end > int32(j) })
	if i == len(segs) {
		i = len(segs) - 1
	}
	return int(segs[i].hap)
}

// Allele returns the allele of slot k at HiFreq marker j.
func (st *CompStates) Allele(j, k int) int {
	return st.fd.HiRefAllele(st.snapshot, j, st.Hap(j, k))
}

// FillAlleles fills buf[k] with the allele of every slot at HiFreq marker
// j; buf must have NStates entries.
func (st *CompStates) FillAlleles(j int, buf []int32) {
	for k := range st.segs {
		buf[k] = int32(st.Allele(j, k))
	}
}
