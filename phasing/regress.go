package phasing

import (
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"gonum.org/v1/gonum/stat"
)

// regressTargetY is the response mass collected before the regression
// stops sampling, divided across worker threads.
const regressTargetY = 5000.0

// regressAccum collects (x, y) observations per worker; workers share only
// the lock-free ySum counter, which reports the total mass gathered.  Each
// worker stops on its own response mass.  Merging accumulators is
// concatenation, so the union of two
// disjoint accumulators regresses identically to their pooled samples.
type regressAccum struct {
	xs, ys []float64
}

func (a *regressAccum) add(x, y float64) {
	a.xs = append(a.xs, x)
	a.ys = append(a.ys, y)
}

func (a *regressAccum) merge(o *regressAccum) {
	a.xs = append(a.xs, o.xs...)
	a.ys = append(a.ys, o.ys...)
}

// beta returns the OLS slope of y on x.
func (a *regressAccum) beta() (float64, bool) {
	if len(a.xs) < 2 {
		return 0, false
	}
	_, b := stat.LinearRegression(a.xs, a.ys, nil, false)
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return 0, false
	}
	return b, true
}

// atomicFloat64 is a lock-free additive float64 counter.
type atomicFloat64 struct{ bits uint64 }

func (f *atomicFloat64) add(v float64) float64 {
	for {
		old := atomic.LoadUint64(&f.bits)
		newV := math.Float64frombits(old) + v
		if atomic.CompareAndSwapUint64(&f.bits, old, math.Float64bits(newV)) {
			return newV
		}
	}
}

// estimateRecombFactor refits the recombination factor: worker threads
// sample random target samples, run the haploid forward/backward HMM on
// one haplotype each, and record per-interval (genetic distance, posterior
// switch mass) points; the fitted OLS slope replaces the factor when it is
// positive and finite.  A degenerate fit leaves the factor unchanged.
func estimateRecombFactor(pd *PhaseData, ep *EstPhase, baseSeed int64, current float64) float64 {
	fd := pd.fd
	nSamples := ep.NSamples()
	nThreads := fd.Opts.NThreads
	if nThreads > nSamples {
		nThreads = nSamples
	}
	if nThreads < 1 {
		nThreads = 1
	}
	threshold := regressTargetY / float64(nThreads)
	if threshold < 200 {
		threshold = 200
	}

	accums := make([]*regressAccum, nThreads)
	var ySum atomicFloat64
	err := traverse.Each(nThreads, func(t int) error {
		rng := taskRand(baseSeed, saltRegress, pd.it*nThreads+t)
		acc := &regressAccum{}
		accums[t] = acc
		// The stop condition is confined to the worker's own response
		// mass: a shared cutoff would make the included sample set depend
		// on thread timing and break seed reproducibility.  The shared
		// counter only reports the total.
		localSum := 0.0
		for draw := 0; draw < nSamples && localSum <= threshold; draw++ {
			s := rng.Intn(nSamples)
			y := regressSample(pd, s, acc, rng)
			localSum += y
			ySum.add(y)
		}
		return nil
	})
	if err != nil {
		log.Panicf("phasing.estimateRecombFactor: %v", err)
	}
	log.Debug.Printf("recomb factor regression: total response mass %.1f",
		math.Float64frombits(atomic.LoadUint64(&ySum.bits)))

	merged := &regressAccum{}
	for _, acc := range accums {
		merged.merge(acc)
	}
	beta, ok := merged.beta()
	if !ok || beta <= 0 {
		log.Debug.Printf("recomb factor regression: no update (%d points)", len(merged.xs))
		return current
	}
	return beta
}

// regressSample runs the HMM for one haplotype of sample s and appends the
// per-interval observations; it returns the total recorded y mass.
func regressSample(pd *PhaseData, s int, acc *regressAccum, rng *rand.Rand) float64 {
	fd := pd.fd
	st := buildStates(fd, pd.cs, pd.nb, pd.lf, []int{2 * s, 2*s + 1},
		pd.maxStates, pd.snapshot, rng)
	S := st.NStates()
	if S < 2 {
		return 0
	}
	hFactor := float64(S) / float64(S-1)
	h := 2 * s
	M := fd.NHiFreq()

	obs := make([]int32, M)
	for j := 0; j < M; j++ {
		obs[j] = int32(pd.snapshot.Allele(j, h))
	}
	al := make([][]int32, M)
	for j := 0; j < M; j++ {
		al[j] = make([]int32, S)
		st.FillAlleles(j, al[j])
	}
	hm := newHMM(fd, pd.pRecomb, S)

	// Forward pass storing the normalised (emission-folded) vectors.
	fwd := make([][]float32, M)
	cur := make([]float32, S)
	uniform(cur)
	sum := hm.fwdEmitInto(cur, al[0], obs[0])
	fwd[0] = normCopy(cur, sum)
	for j := 1; j < M; j++ {
		sum = hm.fwdUpdate(cur, 1, j, al[j], obs[j])
		fwd[j] = normCopy(cur, sum)
		copy(cur, fwd[j])
	}

	// Backward pass, recording the switch mass at every interval.
	bwd := make([]float32, S)
	uniform(bwd)
	total := 0.0
	for j := M - 1; j >= 1; j-- {
		p := float64(pd.pRecomb[j])
		scale := 1 - p
		shift := p / float64(S)
		var den, part float64
		for k := 0; k < S; k++ {
			eb := float64(hm.em(al[j][k], obs[j])) * float64(bwd[k])
			den += eb * (scale*float64(fwd[j-1][k]) + shift)
			part += eb * scale * float64(fwd[j-1][k])
		}
		if den > 0 {
			y := hFactor * (den - part) / den
			acc.add(fd.HiGenDist[j], y)
			total += y
		}
		hm.bwdUpdate(bwd, j, al[j], obs[j])
	}
	return total
}

// fwdEmitInto folds an emission into a vector and returns the sum.
func (h *hmm) fwdEmitInto(fwd []float32, alleles []int32, obs int32) float32 {
	sum := float32(0)
	for k := range fwd {
		fwd[k] *= h.em(alleles[k], obs)
		sum += fwd[k]
	}
	if sum <= 0 {
		uniform(fwd)
		return 1
	}
	return sum
}

// normCopy returns fwd normalised by sum as a fresh slice.
func normCopy(fwd []float32, sum float32) []float32 {
	out := make([]float32, len(fwd))
	inv := 1 / sum
	for k := range fwd {
		out[k] = fwd[k] * inv
	}
	return out
}
