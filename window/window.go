package window

import (
	"fmt"
	"io"

	"github.com/grailbio/phase/gmap"
	"github.com/grailbio/phase/vcf"
)

// Window is one sliding window of the input stream.
type Window struct {
	// Recs are the window's records in order.  The first PrevOverlap
	// records equal the previous window's trailing NextOverlap records.
	Recs []PairRec
	// PrevOverlap counts leading records shared with the previous window.
	PrevOverlap int
	// NextOverlap counts trailing records shared with the next window; 0
	// when LastOnChrom.
	NextOverlap int
	// LastOnChrom is set when this window ends its chromosome.
	LastOnChrom bool
	// Index is the 0-based window ordinal within the run.
	Index int
}

// NMarkers returns the number of records in the window.
func (w *Window) NMarkers() int { return len(w.Recs) }

// Chrom returns the window's chromosome.
func (w *Window) Chrom() vcf.ChromID { return w.Recs[0].Marker().Chrom() }

// Windower accumulates records from a Source into overlapping windows of
// windowCM centimorgans with overlapCM centimorgans of trailing overlap.
// A chromosome change ends the current window immediately with no
// overlap carried across the break.
type Windower struct {
	src       Source
	gm        *gmap.Map
	windowCM  float64
	overlapCM float64

	pending  []PairRec // overlap records carried into the next window
	pushback *PairRec  // first record of the next chromosome
	eof      bool
	nEmitted int
}

// NewWindower builds a Windower.  gm may be nil (default map rate).
func NewWindower(src Source, gm *gmap.Map, windowCM, overlapCM float64) *Windower {
	return &Windower{src: src, gm: gm, windowCM: windowCM, overlapCM: overlapCM}
}

// Next returns the next window, or io.EOF after the final window.
// A non-monotone record position is a fatal format error.
func (w *Windower) Next() (*Window, error) {
	if w.eof && w.pushback == nil && len(w.pending) == 0 {
		return nil, io.EOF
	}
	win := &Window{
		Recs:        append([]PairRec(nil), w.pending...),
		PrevOverlap: len(w.pending),
		Index:       w.nEmitted,
	}
	w.pending = nil

	var chrom vcf.ChromID
	var startCM, lastCM float64
	if len(win.Recs) > 0 {
		chrom = win.Recs[0].Marker().Chrom()
		startCM = w.gm.GenPos(chrom, win.Recs[0].Marker().Pos())
		lastCM = w.gm.GenPos(chrom, win.Recs[len(win.Recs)-1].Marker().Pos())
	}

	for {
		var rec PairRec
		if w.pushback != nil {
			rec, w.pushback = *w.pushback, nil
		} else if w.eof {
			return w.finishChrom(win)
		} else {
			r, err := w.src.Next()
			if err == io.EOF {
				w.eof = true
				continue
			}
			if err != nil {
				return nil, err
			}
			rec = r
		}
		m := rec.Marker()
		if len(win.Recs) == 0 {
			chrom = m.Chrom()
			startCM = w.gm.GenPos(chrom, m.Pos())
			lastCM = startCM
			win.Recs = append(win.Recs, rec)
			continue
		}
		if m.Chrom() != chrom {
			w.pushback = &rec
			return w.finishChrom(win)
		}
		last := win.Recs[len(win.Recs)-1].Marker()
		if m.Pos() <= last.Pos() {
			return nil, fmt.Errorf("non-monotone marker position %s after %s", m, last)
		}
		win.Recs = append(win.Recs, rec)
		lastCM = w.gm.GenPos(chrom, m.Pos())
		if lastCM-startCM > w.windowCM {
			return w.emitOverlapped(win, chrom, lastCM)
		}
	}
}

// finishChrom emits a window that ends its chromosome (or the stream).
func (w *Windower) finishChrom(win *Window) (*Window, error) {
	if len(win.Recs) == 0 {
		return nil, io.EOF
	}
	win.NextOverlap = 0
	win.LastOnChrom = true
	w.nEmitted++
	return win, nil
}

// emitOverlapped closes a mid-chromosome window, designating the trailing
// records within overlapCM of the last marker as the next window's head.
func (w *Windower) emitOverlapped(win *Window, chrom vcf.ChromID, lastCM float64) (*Window, error) {
	n := len(win.Recs)
	cut := n
	for cut > 0 {
		m := win.Recs[cut-1].Marker()
		if lastCM-w.gm.GenPos(chrom, m.Pos()) > w.overlapCM {
			break
		}
		cut--
	}
	nextOverlap := n - cut
	// The two overlap regions may not meet: a window must keep at least one
	// record of its own.
	if win.PrevOverlap+nextOverlap >= n {
		nextOverlap = n - win.PrevOverlap - 1
		if nextOverlap < 0 {
			nextOverlap = 0
		}
	}
	win.NextOverlap = nextOverlap
	win.LastOnChrom = false
	w.pending = append([]PairRec(nil), win.Recs[n-nextOverlap:]...)
	w.nEmitted++
	return win, nil
}
