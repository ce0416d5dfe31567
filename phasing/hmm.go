package phasing

// hmm bundles the per-iteration Li-Stephens parameters over the HiFreq
// markers: the allele-mismatch emission probability and the per-marker
// recombination probabilities derived from the current recombination
// factor.  Probabilities are float32 with per-step linear rescaling; no
// log-space arithmetic.
type hmm struct {
	pErr    float32
	pNoErr  float32
	pRecomb []float32 // pRecomb[j]: switch probability between markers j-1 and j
	nStates int
}

func newHMM(fd *FixedData, pRecomb []float32, nStates int) *hmm {
	return &hmm{
		pErr:    fd.PErr,
		pNoErr:  1 - fd.PErr,
		pRecomb: pRecomb,
		nStates: nStates,
	}
}

// em returns the emission probability of a state allele given the observed
// allele; a negative observation is uninformative and emits 1.
func (h *hmm) em(stateAllele, obs int32) float32 {
	if obs < 0 {
		return 1
	}
	if stateAllele == obs {
		return h.pNoErr
	}
	return h.pErr
}

// fwdUpdate advances fwd across the transition into marker j and applies
// the emission for the observed allele there:
//
//	fwd'[k] = em[k] * (scale*fwd[k] + shift)
//
// with scale = (1-pRecomb[j])/sum and shift = pRecomb[j]/nStates, where
// sum is the caller-maintained total of the incoming fwd.  The transition
// alone yields a vector summing to 1; the returned value is the new total
// including emissions, to be passed into the next update.
func (h *hmm) fwdUpdate(fwd []float32, sum float32, j int, alleles []int32, obs int32) float32 {
	p := h.pRecomb[j]
	scale := (1 - p) / sum
	shift := p / float32(h.nStates)
	newSum := float32(0)
	for k := range fwd {
		fwd[k] = h.em(alleles[k], obs) * (scale*fwd[k] + shift)
		newSum += fwd[k]
	}
	return newSum
}

// bwdUpdate retreats bwd across marker j toward marker j-1: the emission
// at j is folded in, the vector renormalised, and the transition applied
// symmetrically.  The post-update total is exactly 1.
func (h *hmm) bwdUpdate(bwd []float32, j int, alleles []int32, obs int32) {
	sum := float32(0)
	for k := range bwd {
		bwd[k] *= h.em(alleles[k], obs)
		sum += bwd[k]
	}
	p := h.pRecomb[j]
	scale := (1 - p) / sum
	shift := p / float32(h.nStates)
	for k := range bwd {
		bwd[k] = scale*bwd[k] + shift
	}
}

// uniform fills v with 1/len(v).
func uniform(v []float32) {
	u := 1 / float32(len(v))
	for k := range v {
		v[k] = u
	}
}
