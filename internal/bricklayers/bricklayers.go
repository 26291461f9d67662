// Package bricklayers implements a deterministic stand-in for the real
// BrickLayers G-code post-processor. The actual algorithm is out of scope
// (see SPEC_FULL.md §6) — this package only needs to satisfy the documented
// contract: given an extrusion multiplier and a starting layer, consume a
// line stream and produce a transformed line stream, lazily and
// deterministically.
package bricklayers

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	layerChangeMarker = regexp.MustCompile(`^;LAYER_CHANGE`)
	layerHeightMarker = regexp.MustCompile(`^;Z:([0-9.]+)`)
	extrusionMove     = regexp.MustCompile(`^(G[123])\s`)
	eParamPattern     = regexp.MustCompile(`E(-?[0-9.]+)`)
)

// Processor holds the parameters of a single BrickLayers invocation.
// Verbosity controls whether layer-boundary comments are annotated in the
// output stream; it never affects the transformed motion commands.
type Processor struct {
	ExtrusionGlobalMultiplier float64
	StartAtLayer              int
	Verbosity                 int
}

// New constructs a Processor with the documented constructor signature.
func New(extrusionGlobalMultiplier float64, startAtLayer int, verbosity int) *Processor {
	return &Processor{
		ExtrusionGlobalMultiplier: extrusionGlobalMultiplier,
		StartAtLayer:              startAtLayer,
		Verbosity:                 verbosity,
	}
}

// Stream is a lazy, pull-based line-by-line transform over a G-code file.
// Callers drive it with Next until ok is false; an error from Next means the
// underlying read failed and processing must stop.
type Stream struct {
	scanner      *bufio.Scanner
	p            *Processor
	currentLayer int
	lineNum      int

	afterLayerChange bool
}

// NewStream begins processing r. No output is produced until Next is called.
func (p *Processor) NewStream(r io.Reader) *Stream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{scanner: scanner, p: p}
}

// Next pulls and transforms the next line. ok is false once the underlying
// reader is exhausted; err is non-nil only on a genuine read failure.
func (s *Stream) Next() (line string, ok bool, err error) {
	if !s.scanner.Scan() {
		if scanErr := s.scanner.Err(); scanErr != nil {
			return "", false, fmt.Errorf("read g-code line %d: %w", s.lineNum, scanErr)
		}
		return "", false, nil
	}
	s.lineNum++
	raw := s.scanner.Text()

	isLayerChange := layerChangeMarker.MatchString(raw)
	if isLayerChange || layerHeightMarker.MatchString(raw) {
		// A ";Z:" line directly after ";LAYER_CHANGE" belongs to the same
		// layer change and is not counted again.
		if isLayerChange || !s.afterLayerChange {
			s.currentLayer++
		}
		s.afterLayerChange = isLayerChange
		if s.p.Verbosity > 0 {
			return raw + fmt.Sprintf(" ; brick-layer=%d", s.currentLayer), true, nil
		}
		return raw, true, nil
	}
	s.afterLayerChange = false

	// currentLayer counts layer changes seen so far and layers are numbered
	// from 0, so scaling begins once currentLayer exceeds StartAtLayer.
	if s.currentLayer > s.p.StartAtLayer && extrusionMove.MatchString(raw) {
		raw = scaleExtrusion(raw, s.p.ExtrusionGlobalMultiplier)
	}

	return raw, true, nil
}

// LineNumber returns how many lines have been pulled so far.
func (s *Stream) LineNumber() int {
	return s.lineNum
}

// scaleExtrusion rewrites the E parameter of a motion command by factor,
// leaving every other token untouched. Lines without an E parameter pass
// through unmodified.
func scaleExtrusion(line string, factor float64) string {
	match := eParamPattern.FindStringSubmatchIndex(line)
	if match == nil {
		return line
	}

	value, err := strconv.ParseFloat(line[match[2]:match[3]], 64)
	if err != nil {
		return line
	}

	scaled := value * factor
	replacement := "E" + strconv.FormatFloat(scaled, 'f', 5, 64)

	var b strings.Builder
	b.WriteString(line[:match[0]])
	b.WriteString(replacement)
	b.WriteString(line[match[1]:])
	return b.String()
}
