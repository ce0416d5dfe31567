package phasing

import (
	"io"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/phase/gmap"
	"github.com/grailbio/phase/vcf"
	"github.com/grailbio/phase/window"
)

// OutputWriter receives the phased records of the emitted window regions
// in marker order.  vcf.Writer satisfies it.
type OutputWriter interface {
	WritePhased(m vcf.Marker, allele func(h int) int) error
	WriteImputed(m vcf.Marker, allele func(h int) int, ap1, ap2 [][]float32) error
}

// Run drives the phasing pipeline: it streams the merged input into
// overlapping windows, runs burn-in plus main iterations of stage-1
// phasing per window (with stage-2 completion at low-frequency markers),
// splices adjacent windows at the overlap midpoints, and writes the
// emitted regions.
func Run(opts *Opts, samples, refSamples *vcf.Samples, src window.Source, gm *gmap.Map, out OutputWriter) error {
	windower := window.NewWindower(src, gm, opts.WindowCM, opts.OverlapCM)
	var overlap *vcf.HapsGT
	nWindows := 0
	for {
		win, err := windower.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		nWindows++
		overlap, err = runWindow(opts, samples, refSamples, win, gm, overlap, out)
		if err != nil {
			return err
		}
	}
	log.Printf("phasing complete: %d windows", nWindows)
	return nil
}

// runWindow phases one window and returns the phased overlap for the next
// window (nil at a chromosome end).
func runWindow(opts *Opts, samples, refSamples *vcf.Samples, win *window.Window, gm *gmap.Map,
	overlap *vcf.HapsGT, out OutputWriter) (*vcf.HapsGT, error) {
	start := time.Now()

	inTarget := make([]bool, win.NMarkers())
	var targRecs []*vcf.GTRec
	var refRecs []*vcf.RefGTRec
	haveRef := false
	for i, rec := range win.Recs {
		if rec.Ref != nil {
			haveRef = true
		}
		if rec.Targ != nil {
			inTarget[i] = true
			targRecs = append(targRecs, rec.Targ)
			if rec.Ref != nil {
				refRecs = append(refRecs, rec.Ref)
			}
		}
	}
	if len(targRecs) == 0 {
		log.Printf("window %d: no target markers, skipped", win.Index+1)
		if win.LastOnChrom {
			return nil, nil
		}
		return overlap, nil
	}
	mi := window.NewMarkerIndices(inTarget, win.PrevOverlap, win.NextOverlap)

	var gt vcf.GT = vcf.NewBasicGT(samples, targRecs)
	if overlap != nil {
		gt = vcf.SpliceGT(overlap, gt)
	}
	var refGT *vcf.RefGT
	if haveRef {
		if refSamples == nil || len(refRecs) != mi.NTarg() {
			log.Panicf("window %d: %d reference records for %d target markers",
				win.Index+1, len(refRecs), mi.NTarg())
		}
		refGT = vcf.NewRefGT(refSamples, refRecs)
	}

	winSeed := taskSeed(opts.Seed, saltWindow, win.Index)
	fd := NewFixedData(opts, gt, refGT, gm)
	ep := NewEstPhase(gt, winSeed)

	recombFactor := opts.initRecombFactor(fd.NHaps)
	for it := 0; it < opts.totalIts(); it++ {
		pd := newPhaseData(fd, ep, it, recombFactor, winSeed)
		if it == opts.Burnin-1 || it == opts.Burnin {
			if f := estimateRecombFactor(pd, ep, winSeed, recombFactor); f != recombFactor {
				recombFactor = f
				pd.recombFactor = f
				pd.pRecomb = fd.PRecomb(f)
			}
		}
		phaseIteration(pd, ep, winSeed)
	}

	var posts *stage2Result
	if fd.Stage2Needed() {
		posts = runStage2(fd, ep, winSeed, recombFactor, opts.Impute)
	} else {
		// All markers were phased in stage 1; clear any bookkeeping.
		for s := 0; s < ep.NSamples(); s++ {
			sp := ep.Get(s)
			if len(sp.Unphased) > 0 {
				ep.Put(s, &SamplePhase{Row1: sp.Row1, Row2: sp.Row2, Missing: sp.Missing})
			}
		}
	}

	// Emit [PrevSplice, NextSplice) in target coordinates.
	markers := gt.Markers()
	allRows := make([][]uint64, 2*ep.NSamples())
	for s := 0; s < ep.NSamples(); s++ {
		sp := ep.Get(s)
		allRows[2*s] = sp.Row1
		allRows[2*s+1] = sp.Row2
	}
	for m := mi.PrevSplice; m < mi.NextSplice; m++ {
		mk := markers.Marker(m)
		allele := func(h int) int { return markers.AlleleAt(allRows[h], m) }
		var err error
		if posts != nil && posts.posts[m] != nil {
			mp := posts.posts[m]
			err = out.WriteImputed(mk, allele, mp.AP1, mp.AP2)
		} else {
			err = out.WritePhased(mk, allele)
		}
		if err != nil {
			return nil, err
		}
	}

	log.Printf("window %d (%s): %d markers (%d hi-freq), %d samples, %s",
		win.Index+1, win.Chrom(), mi.NTarg(), fd.NHiFreq(), ep.NSamples(),
		time.Since(start).Round(time.Millisecond))

	if win.LastOnChrom {
		return nil, nil
	}
	return overlapHaps(markers, samples, allRows, mi.OverlapStart, mi.NextSplice), nil
}

// overlapHaps packs the phased region [start, end) as the next window's
// leading overlap.
func overlapHaps(markers *vcf.Markers, samples *vcf.Samples, rows [][]uint64, start, end int) *vcf.HapsGT {
	if start >= end {
		return nil
	}
	indices := make([]int, 0, end-start)
	for m := start; m < end; m++ {
		indices = append(indices, m)
	}
	sub := markers.Restrict(indices)
	a := make([]int, len(indices))
	outRows := make([][]uint64, len(rows))
	for h, row := range rows {
		for i, m := range indices {
			a[i] = markers.AlleleAt(row, m)
		}
		outRows[h] = sub.Pack(a)
	}
	return vcf.NewHapsGT(sub, samples, outRows)
}
