// Package gmap reads PLINK-format genetic maps and interpolates genetic
// (cM) positions from base-pair positions.
package gmap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/phase/vcf"
)

// defaultCMPerMb is the rate assumed when no map is supplied and when
// extrapolating beyond a chromosome's mapped interval.
const defaultCMPerMb = 1.0

type chromMap struct {
	pos []int32   // strictly increasing base positions
	cm  []float64 // strictly increasing genetic positions
}

// Map interpolates genetic positions.  A nil *Map is valid and applies the
// constant 1 cM/Mb default rate.
type Map struct {
	chroms map[vcf.ChromID]*chromMap
}

// Open reads a PLINK map (whitespace columns: chrom, id, cM, bp) through
// base/file.
func Open(ctx context.Context, path string) (*Map, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	m, err := New(path, f.Reader(ctx))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// New parses a PLINK map from src.  name is used in diagnostics only.
func New(name string, src io.Reader) (*Map, error) {
	m := &Map{chroms: map[vcf.ChromID]*chromMap{}}
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 1<<16), 1<<22)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("%s:%d: map line has %d fields, want 4", name, lineNo, len(fields))
		}
		cm, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad cM value %q", name, lineNo, fields[2])
		}
		bp, err := strconv.ParseInt(fields[3], 10, 32)
		if err != nil || bp < 1 {
			return nil, fmt.Errorf("%s:%d: bad bp position %q", name, lineNo, fields[3])
		}
		chrom := vcf.InternChrom(fields[0])
		cmap := m.chroms[chrom]
		if cmap == nil {
			cmap = &chromMap{}
			m.chroms[chrom] = cmap
		}
		if n := len(cmap.pos); n > 0 {
			if int32(bp) <= cmap.pos[n-1] || cm <= cmap.cm[n-1] {
				return nil, fmt.Errorf("%s:%d: map positions not strictly increasing on chromosome %s",
					name, lineNo, fields[0])
			}
		}
		cmap.pos = append(cmap.pos, int32(bp))
		cmap.cm = append(cmap.cm, cm)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, name)
	}
	return m, nil
}

// GenPos returns the genetic position (cM) of a base position.  Positions
// outside the mapped interval extrapolate at the default rate; chromosomes
// absent from the map use the default rate throughout.
func (m *Map) GenPos(chrom vcf.ChromID, pos int32) float64 {
	if m == nil {
		return defaultCMPerMb * float64(pos) * 1e-6
	}
	cmap := m.chroms[chrom]
	if cmap == nil || len(cmap.pos) == 0 {
		return defaultCMPerMb * float64(pos) * 1e-6
	}
	n := len(cmap.pos)
	i := sort.Search(n, func(i int) bool { return cmap.pos[i] >= pos })
	switch {
	case i < n && cmap.pos[i] == pos:
		return cmap.cm[i]
	case i == 0:
		return cmap.cm[0] - defaultCMPerMb*float64(cmap.pos[0]-pos)*1e-6
	case i == n:
		return cmap.cm[n-1] + defaultCMPerMb*float64(pos-cmap.pos[n-1])*1e-6
	default:
		frac := float64(pos-cmap.pos[i-1]) / float64(cmap.pos[i]-cmap.pos[i-1])
		return cmap.cm[i-1] + frac*(cmap.cm[i]-cmap.cm[i-1])
	}
}

// GenDist returns the genetic distance in cM between two base positions on
// one chromosome.
func (m *Map) GenDist(chrom vcf.ChromID, pos1, pos2 int32) float64 {
	return m.GenPos(chrom, pos2) - m.GenPos(chrom, pos1)
}
