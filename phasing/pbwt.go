package phasing

import (
	"math"
	"math/rand"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Candidate-count schedule for the PBWT neighbour windows.
const (
	burninCandidates   = 100
	maxPhaseCandidates = 90
	minPhaseCandidates = 5
)

// maxCandidates anneals the neighbour-window capacity: constant during
// burn-in, then linear from maxPhaseCandidates down to minPhaseCandidates
// at the final iteration.
func maxCandidates(opts *Opts, it int) int {
	if it < opts.Burnin {
		return burninCandidates
	}
	last := opts.totalIts() - 1
	if last <= opts.Burnin {
		return minPhaseCandidates
	}
	frac := float64(it-opts.Burnin) / float64(last-opts.Burnin)
	return int(math.Round(maxPhaseCandidates + frac*(minPhaseCandidates-maxPhaseCandidates)))
}

// pbwtNeighbors holds, per step and target haplotype, the haplotype index
// selected by the forward and backward PBWT sweeps (-1 when no qualifying
// candidate was found).
type pbwtNeighbors struct {
	fwd [][]int32
	bwd [][]int32
}

// findNeighbors runs the forward and backward Durbin sweeps over the coded
// steps in parallel batches and selects IBS candidates for every target
// haplotype.  Each batch first processes a buffer of steps outside the
// batch to warm the divergence array; a zero buffer is a legal degenerate
// case with no warmup prefix.
func findNeighbors(fd *FixedData, cs *CodedSteps, it int, baseSeed int64) *pbwtNeighbors {
	nSteps := cs.NSteps()
	nb := &pbwtNeighbors{
		fwd: make([][]int32, nSteps),
		bwd: make([][]int32, nSteps),
	}
	for k := 0; k < nSteps; k++ {
		nb.fwd[k] = make([]int32, fd.NTargHaps)
		nb.bwd[k] = make([]int32, fd.NTargHaps)
	}
	bufferSteps := int(math.Ceil(fd.Opts.BufferCM / fd.Opts.PhaseStep))
	nBatches := fd.Opts.NThreads
	if nBatches > nSteps {
		nBatches = nSteps
	}
	if nBatches < 1 {
		nBatches = 1
	}
	batchSize := (nSteps + nBatches - 1) / nBatches
	maxCand := maxCandidates(fd.Opts, it)

	err := traverse.Each(2*nBatches, func(task int) error {
		b := task % nBatches
		s0 := b * batchSize
		s1 := s0 + batchSize
		if s1 > nSteps {
			s1 = nSteps
		}
		if s0 >= s1 {
			return nil
		}
		rng := taskRand(baseSeed, saltPbwt, it*2*nBatches+task)
		sw := newSweep(fd, cs, maxCand, rng)
		if task < nBatches {
			sw.forward(s0, s1, bufferSteps, nb.fwd)
		} else {
			sw.backward(s0, s1, bufferSteps, nb.bwd)
		}
		return nil
	})
	if err != nil {
		log.Panicf("phasing.findNeighbors: %v", err)
	}
	return nb
}

// sweep holds the Durbin prefix array a and divergence array d for one
// batch, plus the per-symbol scratch of the generalized update.
type sweep struct {
	fd      *FixedData
	cs      *CodedSteps
	maxCand int
	rng     *rand.Rand

	a, d   []int32
	aN, dN []int32
	cnt    []int32
	off    []int32
	pend   []int32
}

func newSweep(fd *FixedData, cs *CodedSteps, maxCand int, rng *rand.Rand) *sweep {
	n := cs.NHaps()
	maxSeqs := 2
	for k := 0; k < cs.NSteps(); k++ {
		if v := cs.NSeqs(k); v > maxSeqs {
			maxSeqs = v
		}
	}
	return &sweep{
		fd: fd, cs: cs, maxCand: maxCand, rng: rng,
		a: make([]int32, n), d: make([]int32, n+1),
		aN: make([]int32, n), dN: make([]int32, n+1),
		cnt: make([]int32, maxSeqs), off: make([]int32, maxSeqs),
		pend: make([]int32, maxSeqs),
	}
}

func (sw *sweep) reset(startStep int32) {
	for i := range sw.a {
		sw.a[i] = int32(i)
		sw.d[i] = startStep
	}
	sw.d[len(sw.a)] = startStep
}

// forward processes steps [s0-buffer, s1), recording neighbours for steps
// in [s0, s1).
func (sw *sweep) forward(s0, s1, buffer int, out [][]int32) {
	w0 := s0 - buffer
	if w0 < 0 {
		w0 = 0
	}
	sw.reset(int32(w0))
	for k := w0; k < s1; k++ {
		sw.updateFwd(k)
		if k >= s0 {
			sw.record(k, int32(k), true, out[k])
		}
	}
}

// backward is the mirror sweep over descending steps.
func (sw *sweep) backward(s0, s1, buffer int, out [][]int32) {
	w1 := s1 + buffer
	if w1 > sw.cs.NSteps() {
		w1 = sw.cs.NSteps()
	}
	sw.reset(int32(w1 - 1))
	for k := w1 - 1; k >= s0; k-- {
		sw.updateBwd(k)
		if k < s1 {
			sw.record(k, int32(k), false, out[k])
		}
	}
}

// updateFwd performs the generalized Durbin update for step k: stable
// counting sort of the prefix array by symbol, with per-symbol pending
// divergence maxima.  After the update, d[i] is the first step of the
// match between a[i-1] and a[i]; d[0] and d[n] hold the sentinel k+1.
func (sw *sweep) updateFwd(k int) {
	n := len(sw.a)
	V := sw.cs.NSeqs(k)
	seq := sw.cs.seqs[k]
	for v := 0; v < V; v++ {
		sw.cnt[v] = 0
		sw.pend[v] = int32(k + 1)
	}
	for _, h := range sw.a {
		sw.cnt[seq[h]]++
	}
	sum := int32(0)
	for v := 0; v < V; v++ {
		sw.off[v] = sum
		sum += sw.cnt[v]
	}
	for i := 0; i < n; i++ {
		di := sw.d[i]
		for v := 0; v < V; v++ {
			if di > sw.pend[v] {
				sw.pend[v] = di
			}
		}
		h := sw.a[i]
		v := seq[h]
		sw.aN[sw.off[v]] = h
		sw.dN[sw.off[v]] = sw.pend[v]
		sw.pend[v] = 0
		sw.off[v]++
	}
	sw.a, sw.aN = sw.aN, sw.a
	sw.d, sw.dN = sw.dN, sw.d
	sw.d[0] = int32(k + 1)
	sw.d[n] = int32(k + 1)
}

// updateBwd mirrors updateFwd for the descending sweep: divergence values
// are match *ends*, maintained as minima, with sentinel k-1.
func (sw *sweep) updateBwd(k int) {
	n := len(sw.a)
	V := sw.cs.NSeqs(k)
	seq := sw.cs.seqs[k]
	for v := 0; v < V; v++ {
		sw.cnt[v] = 0
		sw.pend[v] = int32(k - 1)
	}
	for _, h := range sw.a {
		sw.cnt[seq[h]]++
	}
	sum := int32(0)
	for v := 0; v < V; v++ {
		sw.off[v] = sum
		sum += sw.cnt[v]
	}
	for i := 0; i < n; i++ {
		di := sw.d[i]
		for v := 0; v < V; v++ {
			if di < sw.pend[v] {
				sw.pend[v] = di
			}
		}
		h := sw.a[i]
		v := seq[h]
		sw.aN[sw.off[v]] = h
		sw.dN[sw.off[v]] = sw.pend[v]
		sw.pend[v] = int32(sw.cs.NSteps())
		sw.off[v]++
	}
	sw.a, sw.aN = sw.aN, sw.a
	sw.d, sw.dN = sw.dN, sw.d
	sw.d[0] = int32(k - 1)
	sw.d[n] = int32(k - 1)
}

// record selects one neighbour per target haplotype at step k.  For each
// prefix-array position holding a target haplotype, a half-open candidate
// window [u, v) is grown outward, always advancing the bound with the
// longer current match, until it reaches maxCand entries or neither bound
// matches through step k.  A uniformly drawn candidate that is not from
// the target's own sample and not IBS2 with it at either end of the step
// is accepted; the scan is circular over the window and gives up after one
// lap.
func (sw *sweep) record(k int, step int32, isFwd bool, out []int32) {
	n := len(sw.a)
	start, end := sw.cs.Start(k), sw.cs.End(k)-1
	better := func(d1, d2 int32) bool {
		if isFwd {
			return d1 <= d2
		}
		return d1 >= d2
	}
	matches := func(d int32) bool {
		if isFwd {
			return d <= step
		}
		return d >= step
	}
	for i := 0; i < n; i++ {
		h := int(sw.a[i])
		if h >= sw.fd.NTargHaps {
			continue
		}
		u, v := i, i+1
		dUp, dDn := sw.d[u], sw.d[v]
		for v-u < sw.maxCand+1 {
			upOK := u > 0 && matches(dUp)
			dnOK := v < n && matches(dDn)
			if !upOK && !dnOK {
				break
			}
			if upOK && (!dnOK || better(dUp, dDn)) {
				u--
				if d := sw.d[u]; !better(d, dUp) {
					dUp = d
				}
			} else {
				v++
				if d := sw.d[v]; !better(d, dDn) {
					dDn = d
				}
			}
		}
		out[h] = sw.pick(h, u, v, i, start, end)
	}
}

// pick draws a qualifying candidate from a[u:v], excluding position self.
func (sw *sweep) pick(h, u, v, self, stepStart, stepEnd int) int32 {
	size := v - u
	if size <= 1 {
		return -1
	}
	targSample := h / 2
	r := u + sw.rng.Intn(size)
	for scanned := 0; scanned < size; scanned++ {
		j := r + scanned
		if j >= v {
			j -= size
		}
		if j == self {
			continue
		}
		c := int(sw.a[j])
		cSample := combinedSample(sw.fd, c)
		if c/2 == targSample && c < sw.fd.NTargHaps {
			continue
		}
		if sw.fd.Ibs2.AreIbs2(targSample, cSample, stepStart) ||
			sw.fd.Ibs2.AreIbs2(targSample, cSample, stepEnd) {
			continue
		}
		return int32(c)
	}
	return -1
}

// combinedSample maps a haplotype index (targets first, then reference)
// to the combined sample index used by Ibs2.
func combinedSample(fd *FixedData, h int) int {
	if h < fd.NTargHaps {
		return h / 2
	}
	return fd.NTargHaps/2 + (h-fd.NTargHaps)/2
}
