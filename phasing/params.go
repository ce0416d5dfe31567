// Package phasing implements the iterative phasing engine: per-window fixed
// data, IBS2 segment discovery, coded steps, the PBWT neighbour finder, the
// composite-reference state builder, the Li-Stephens HMM passes, and the
// sliding-window driver.
package phasing

import (
	"fmt"
	"math"
	"runtime"
)

// Opts holds every engine parameter.  Field defaults are DefaultOpts; the
// CLI overrides them from key=value arguments.
type Opts struct {
	// Data parameters.
	Out            string
	GT             string
	Ref            string
	Map            string
	Chrom          string
	ExcludeSamples string
	ExcludeMarkers string

	// Phasing parameters.
	Burnin      int
	Iterations  int
	PhaseStates int
	PhaseStep   float64 // cM
	Rare        float64

	// Imputation parameters.
	Impute     bool
	ImpStates  int
	ImpSegment float64 // cM
	ImpStep    float64 // cM
	ImpNSteps  int
	ClusterCM  float64
	AP         bool
	GP         bool

	// General parameters.
	NE        float64
	Err       float64 // < 0 selects the data-dependent default
	WindowCM  float64
	OverlapCM float64
	Seed      int64
	NThreads  int
	BufferCM  float64
}

// DefaultOpts mirrors the published defaults of the command-line interface.
var DefaultOpts = Opts{
	Burnin:      6,
	Iterations:  12,
	PhaseStates: 280,
	PhaseStep:   0.006,
	Rare:        0.0015,
	Impute:      true,
	ImpStates:   1600,
	ImpSegment:  6.0,
	ImpStep:     0.1,
	ImpNSteps:   7,
	ClusterCM:   0.005,
	NE:          1e6,
	Err:         -1,
	WindowCM:    40.0,
	OverlapCM:   4.0,
	Seed:        -99999,
	NThreads:    0, // 0 selects runtime.NumCPU()
	BufferCM:    0.6,
}

// Validate checks parameter consistency and fills derived defaults.
func (o *Opts) Validate() error {
	if o.Out == "" {
		return fmt.Errorf("missing required parameter: out")
	}
	if o.GT == "" {
		return fmt.Errorf("missing required parameter: gt")
	}
	if o.Burnin < 0 || o.Iterations < 1 {
		return fmt.Errorf("burnin must be >= 0 and iterations >= 1")
	}
	if o.PhaseStates < 2 {
		return fmt.Errorf("phase-states must be >= 2")
	}
	if o.PhaseStep <= 0 || o.Rare < 0 || o.Rare >= 0.5 {
		return fmt.Errorf("phase-step must be positive and rare in [0, 0.5)")
	}
	if o.WindowCM <= 0 || o.OverlapCM < 0 || 1.1*o.OverlapCM >= o.WindowCM {
		return fmt.Errorf("window and overlap must satisfy 1.1*overlap < window")
	}
	if o.NE <= 0 {
		return fmt.Errorf("ne must be positive")
	}
	if o.Err >= 0 && o.Err > 1 {
		return fmt.Errorf("err must be a probability")
	}
	if o.BufferCM < 0 {
		return fmt.Errorf("buffer must be >= 0")
	}
	if o.NThreads <= 0 {
		o.NThreads = runtime.NumCPU()
	}
	return nil
}

// totalIts returns the total number of stage-1 iterations.
func (o *Opts) totalIts() int { return o.Burnin + o.Iterations }

// scaleFactor scales step-derived structures with the phase-states
// parameter.
func (o *Opts) scaleFactor() float64 {
	return float64(o.PhaseStates) / float64(DefaultOpts.PhaseStates)
}

// liStephensPErr returns the allele-mismatch probability: the configured
// err parameter when given, else the Li-Stephens default for nHaps
// haplotypes, clamped to [1e-4, 0.5].
func (o *Opts) liStephensPErr(nHaps int) float32 {
	if o.Err >= 0 {
		return float32(o.Err)
	}
	if nHaps < 2 {
		nHaps = 2
	}
	theta := 1.0 / (math.Log(float64(nHaps)) + 0.5)
	p := theta / (2.0 * (theta + float64(nHaps)))
	if p < 1e-4 {
		p = 1e-4
	}
	if p > 0.5 {
		p = 0.5
	}
	return float32(p)
}

// initRecombFactor returns the starting recombination factor.
func (o *Opts) initRecombFactor(nHaps int) float64 {
	if nHaps < 2 {
		nHaps = 2
	}
	return 0.04 * o.NE / float64(nHaps)
}
