// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
bio-phase statistically phases diploid genotypes along one chromosome using
a PBWT-driven Li-Stephens haplotype HMM, optionally conditioning on a
phased reference panel (VCF or bref3).  Arguments are key=value pairs, e.g.

  bio-phase gt=targets.vcf.gz ref=panel.bref3 map=plink.map out=phased
*/

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/phase/bref"
	"github.com/grailbio/phase/gmap"
	"github.com/grailbio/phase/phasing"
	"github.com/grailbio/phase/vcf"
	"github.com/grailbio/phase/window"
)

const usage = `usage: bio-phase gt=<vcf> out=<prefix> [ref=<vcf|bref3>] [map=<plink map>] [chrom=<chrom[:start-end]>] [burnin=| iterations=| phase-states=| phase-step=| rare=| impute=| imp-states=| imp-segment=| imp-step=| imp-nsteps=| cluster=| ap=| gp=| ne=| err=| window=| overlap=| seed=| nthreads=| buffer=| excludesamples=| excludemarkers=]`

func main() {
	shutdown := grail.Init()
	defer shutdown()
	ctx := vcontext.Background()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bio-phase: %v\n%s\n", err, usage)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	outPath := opts.Out + ".vcf.gz"
	if info, err := os.Stat(opts.Out); err == nil && info.IsDir() {
		return fmt.Errorf("out=%s is a directory", opts.Out)
	}
	for _, in := range []string{opts.GT, opts.Ref, opts.Map} {
		if in != "" && in == outPath {
			return fmt.Errorf("output file %s equals input file", outPath)
		}
	}

	region, err := vcf.ParseRegion(opts.Chrom)
	if err != nil {
		return err
	}
	excludeSamples, err := readExcludeFile(ctx, opts.ExcludeSamples)
	if err != nil {
		return err
	}
	excludeMarkers, err := readExcludeFile(ctx, opts.ExcludeMarkers)
	if err != nil {
		return err
	}
	readOpts := vcf.ReadOpts{
		Region:         region,
		ExcludeSamples: excludeSamples,
		ExcludeMarkers: excludeMarkers,
	}

	targ, err := vcf.Open(ctx, opts.GT, readOpts)
	if err != nil {
		return err
	}
	defer targ.Close() // nolint: errcheck

	var gm *gmap.Map
	if opts.Map != "" {
		if gm, err = gmap.Open(ctx, opts.Map); err != nil {
			return err
		}
	}

	var src window.Source = window.NewTargSource(targ)
	var refSamples *vcf.Samples
	var closeRef func() error
	if opts.Ref != "" {
		refSrc, samples, closer, err := openRef(ctx, opts.Ref, readOpts)
		if err != nil {
			return err
		}
		src = window.NewMergedSource(targ, refSrc)
		refSamples = samples
		closeRef = closer
	}
	if closeRef != nil {
		defer closeRef() // nolint: errcheck
	}

	writeOpts := vcf.WriteOpts{}
	if opts.Ref != "" && opts.Impute {
		writeOpts.DS = true
		writeOpts.AP = opts.AP
		writeOpts.GP = opts.GP
	}
	out, err := vcf.Create(ctx, outPath, targ.Samples(), writeOpts)
	if err != nil {
		return err
	}
	if err := out.WriteHeader(); err != nil {
		return err
	}

	log.Printf("bio-phase: %d target samples, seed %d, %d threads",
		targ.Samples().NSamples(), opts.Seed, opts.NThreads)
	if err := phasing.Run(&opts, targ.Samples(), refSamples, src, gm, out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// openRef opens a reference panel in bref3 or VCF format; the format is
// chosen by file suffix.
func openRef(ctx context.Context, path string, readOpts vcf.ReadOpts) (window.RefSource, *vcf.Samples, func() error, error) {
	if strings.HasSuffix(path, ".bref3") || strings.HasSuffix(path, ".bref3.gz") {
		r, err := bref.Open(ctx, path)
		if err != nil {
			return nil, nil, nil, err
		}
		return r, r.Samples(), r.Close, nil
	}
	r, err := vcf.Open(ctx, path, vcf.ReadOpts{Region: readOpts.Region, ExcludeMarkers: readOpts.ExcludeMarkers})
	if err != nil {
		return nil, nil, nil, err
	}
	rr := vcf.NewRefReader(r, 0)
	return rr, rr.Samples(), rr.Close, nil
}

// readExcludeFile reads one identifier per line.
func readExcludeFile(ctx context.Context, path string) (map[string]bool, error) {
	if path == "" {
		return nil, nil
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	out := map[string]bool{}
	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			out[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseArgs parses key=value arguments; unknown keys are fatal.
func parseArgs(args []string) (phasing.Opts, error) {
	opts := phasing.DefaultOpts
	for _, arg := range args {
		eq := strings.IndexByte(arg, '=')
		if eq < 0 {
			return opts, fmt.Errorf("malformed argument %q (want key=value)", arg)
		}
		key, val := arg[:eq], arg[eq+1:]
		var err error
		switch key {
		case "out":
			opts.Out = val
		case "gt":
			opts.GT = val
		case "ref":
			opts.Ref = val
		case "map":
			opts.Map = val
		case "chrom":
			opts.Chrom = val
		case "excludesamples":
			opts.ExcludeSamples = val
		case "excludemarkers":
			opts.ExcludeMarkers = val
		case "burnin":
			opts.Burnin, err = strconv.Atoi(val)
		case "iterations":
			opts.Iterations, err = strconv.Atoi(val)
		case "phase-states":
			opts.PhaseStates, err = strconv.Atoi(val)
		case "phase-step":
			opts.PhaseStep, err = strconv.ParseFloat(val, 64)
		case "rare":
			opts.Rare, err = strconv.ParseFloat(val, 64)
		case "impute":
			opts.Impute, err = strconv.ParseBool(val)
		case "imp-states":
			opts.ImpStates, err = strconv.Atoi(val)
		case "imp-segment":
			opts.ImpSegment, err = strconv.ParseFloat(val, 64)
		case "imp-step":
			opts.ImpStep, err = strconv.ParseFloat(val, 64)
		case "imp-nsteps":
			opts.ImpNSteps, err = strconv.Atoi(val)
		case "cluster":
			opts.ClusterCM, err = strconv.ParseFloat(val, 64)
		case "ap":
			opts.AP, err = strconv.ParseBool(val)
		case "gp":
			opts.GP, err = strconv.ParseBool(val)
		case "ne":
			opts.NE, err = strconv.ParseFloat(val, 64)
		case "err":
			opts.Err, err = strconv.ParseFloat(val, 64)
		case "window":
			opts.WindowCM, err = strconv.ParseFloat(val, 64)
		case "overlap":
			opts.OverlapCM, err = strconv.ParseFloat(val, 64)
		case "seed":
			opts.Seed, err = strconv.ParseInt(val, 10, 64)
		case "nthreads":
			opts.NThreads, err = strconv.Atoi(val)
		case "buffer":
			opts.BufferCM, err = strconv.ParseFloat(val, 64)
		default:
			return opts, fmt.Errorf("unknown parameter %q", key)
		}
		if err != nil {
			return opts, fmt.Errorf("bad value for %s: %q", key, val)
		}
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
