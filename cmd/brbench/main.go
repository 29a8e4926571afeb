// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// brbench measures what kernel fusion buys: every pipeline runs once fused
// (a single stitched kernel) and once unfused (one kernel per stage, each
// intermediate materialized), over the same probe image.
//
// Stages within a pipeline are joined with '+'. Pipelines are separated by
// commas at the top nesting level, so stage arguments such as clamp(0,255)
// keep their commas:
//
//	brbench -size 512 -reps 200 \
//	    -pipelines "scale(2)+add(3),cast(f32)+pow(2)+quantize(0.00392,0)"
//
// Without -image a diagonal gradient probe is synthesized.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/caotto/openbr/internal/must"
	"github.com/caotto/openbr/jit"
	"github.com/caotto/openbr/transforms"
	"github.com/caotto/openbr/types/matrix"
)

var (
	flagImage = flag.String("image", "", "Probe image fed through the pipelines. "+
		"When empty a diagonal gradient is synthesized instead.")
	flagSize = flag.Int("size", 512, "Probe edge length. The probe is resized (or synthesized) to size x size.")
	flagReps = flag.Int("reps", 200, "Repetitions per pipeline and mode.")

	flagPipelines = flag.String("pipelines",
		"scale(2)+add(3),abs+clamp(16,235),cast(f32)+pow(2)+quantize(0.00392,0)",
		"Pipelines to benchmark: stages joined with '+', pipelines separated by top-level commas.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'brbench -help'.", flag.Args())
		os.Exit(1)
	}
	if *flagSize < 1 || *flagReps < 1 {
		klog.Errorf("-size and -reps must be positive.")
		os.Exit(1)
	}
	pipelines := splitTopLevel(*flagPipelines)
	if len(pipelines) == 0 {
		klog.Errorf("No pipelines to benchmark. See 'brbench -help'.")
		os.Exit(1)
	}

	jit.SelfCheck(jit.Default())

	source := *flagImage
	if source == "" {
		source = "synthesized gradient"
	}
	probe := transforms.NewTemplate(transforms.NewFile(source), loadProbe(*flagImage, *flagSize))

	fmt.Println(titleStyle.Render("Probe"))
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("source", source)
	summary.Row("matrix", probe.Last().String())
	summary.Row("fingerprint", probe.Last().Hash.String())
	summary.Row("bytes", humanize.Bytes(uint64(probe.Bytes())))
	summary.Row("reps", humanize.Comma(int64(*flagReps)))
	fmt.Println(summary.Render())

	var results []result
	for _, pipeline := range pipelines {
		if r, ok := benchmark(pipeline, probe, *flagReps); ok {
			results = append(results, r)
		}
	}
	report(results)
	fmt.Printf("Compiled %s kernel specializations in total.\n",
		humanize.Comma(jit.Default().CompiledKernels()))
}

// result holds one pipeline's measurements. fusedNs stays zero when the
// stages do not stitch into a single kernel.
type result struct {
	pipeline  string
	output    matrix.Fingerprint
	kernels   int64
	fusedNs   int64
	unfusedNs int64
	bytesOp   uint64
}

func benchmark(pipeline string, probe transforms.Template, reps int) (result, bool) {
	stages := strings.Split(pipeline, "+")
	for ii := range stages {
		stages[ii] = strings.TrimSpace(stages[ii])
	}
	unfused, err := newChain(stages)
	if err != nil {
		klog.Errorf("Skipping pipeline %q: %+v", pipeline, err)
		return result{}, false
	}
	fused, fusedErr := transforms.Make(fusedDescription(stages))
	if fusedErr != nil {
		klog.Warningf("Pipeline %q does not stitch, benchmarking unfused only: %v", pipeline, fusedErr)
	}

	total := reps
	if fusedErr == nil {
		total = 2 * reps
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(pipeline),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("reps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	before := jit.Default().CompiledKernels()

	r := result{pipeline: pipeline}
	var out transforms.Template
	if fusedErr == nil {
		var elapsed time.Duration
		elapsed, out = timeTransform(fused, probe, reps, bar)
		r.fusedNs = elapsed.Nanoseconds() / int64(reps)
	}
	elapsed, unfusedOut := timeTransform(unfused, probe, reps, bar)
	r.unfusedNs = elapsed.Nanoseconds() / int64(reps)
	_ = bar.Close()
	fmt.Println()

	if fusedErr != nil {
		out = unfusedOut
	}
	r.kernels = jit.Default().CompiledKernels() - before
	if out.Len() > 0 {
		r.output = out.Last().Hash
	}
	r.bytesOp = uint64(probe.Bytes() + out.Bytes())
	return r, true
}

// timeTransform projects the probe reps times and returns the time spent
// inside Project plus the last output. One untimed projection up front pays
// for compilation.
func timeTransform(tr transforms.Transform, probe transforms.Template, reps int, bar *progressbar.ProgressBar) (time.Duration, transforms.Template) {
	out := must.M1(tr.Project(probe))
	var elapsed time.Duration
	for ii := 0; ii < reps; ii++ {
		start := time.Now()
		out = must.M1(tr.Project(probe))
		elapsed += time.Since(start)
		_ = bar.Add(1)
	}
	return elapsed, out
}

func report(results []result) {
	fmt.Println(titleStyle.Render("Pipelines"))
	table := newPlainTable(lipgloss.Left, lipgloss.Center, lipgloss.Right,
		lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right)
	table.Headers("Pipeline", "Output", "Kernels", "Fused ns/op", "Unfused ns/op", "Speedup", "Bytes/op")
	for _, r := range results {
		fusedNs, speedup := "-", "-"
		if r.fusedNs > 0 {
			fusedNs = humanize.Comma(r.fusedNs)
			speedup = fmt.Sprintf("%.2fx", float64(r.unfusedNs)/float64(r.fusedNs))
		}
		table.Row(r.pipeline, r.output.String(), humanize.Comma(r.kernels),
			fusedNs, humanize.Comma(r.unfusedNs), speedup, humanize.Bytes(r.bytesOp))
	}
	fmt.Println(table.Render())
}

// chain runs its stages in order, materializing every intermediate. It is
// the unfused baseline the stitched kernel competes against.
type chain struct {
	name   string
	stages []transforms.Transform
}

func newChain(stages []string) (*chain, error) {
	c := &chain{name: strings.Join(stages, "+")}
	for _, desc := range stages {
		tr, err := transforms.Make(desc)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, tr)
	}
	return c, nil
}

func (c *chain) Name() string { return c.name }

func (c *chain) Project(src transforms.Template) (transforms.Template, error) {
	cur := src
	for _, tr := range c.stages {
		var err error
		if cur, err = tr.Project(cur); err != nil {
			return transforms.Template{}, err
		}
	}
	return cur, nil
}

// fusedDescription rewrites a stage list as one stitched kernel. A single
// stage needs no stitching.
func fusedDescription(stages []string) string {
	if len(stages) == 1 {
		return stages[0]
	}
	return fmt.Sprintf("stitch([%s])", strings.Join(stages, ","))
}

// splitTopLevel splits on commas outside any parentheses or brackets, so
// stage arguments keep theirs.
func splitTopLevel(csv string) []string {
	var out []string
	depth, start := 0, 0
	for ii := 0; ii < len(csv); ii++ {
		switch csv[ii] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				if s := strings.TrimSpace(csv[start:ii]); s != "" {
					out = append(out, s)
				}
				start = ii + 1
			}
		}
	}
	if s := strings.TrimSpace(csv[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// loadProbe returns the benchmark input as a single-channel u8 matrix,
// decoded from path or synthesized as a diagonal gradient.
func loadProbe(path string, size int) matrix.Matrix {
	var img image.Image
	if path == "" {
		img = gradient(size)
	} else {
		img = must.M1(imaging.Open(path))
	}
	gray := imaging.Grayscale(imaging.Resize(img, size, size, imaging.Lanczos))
	pixels := make([]uint8, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// Grayscale output has R == G == B.
			r, _, _, _ := gray.At(x, y).RGBA()
			pixels[y*size+x] = uint8(r >> 8)
		}
	}
	return matrix.FromFlat[uint8](1, size, size, 1, pixels)
}

func gradient(size int) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	return img
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}
