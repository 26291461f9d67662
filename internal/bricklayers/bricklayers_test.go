package bricklayers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGcode = `;LAYER_CHANGE
;Z:0.2
G1 X10 Y10 E1.0
;LAYER_CHANGE
;Z:0.4
G1 X20 Y20 E2.0
`

func drain(t *testing.T, stream *Stream) []string {
	t.Helper()
	var lines []string
	for {
		line, ok, err := stream.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

func TestStream_PassesThroughBeforeStartLayer(t *testing.T) {
	p := New(2.0, 10, 0) // start layer far beyond the sample, never scales
	stream := p.NewStream(strings.NewReader(sampleGcode))

	lines := drain(t, stream)
	assert.Contains(t, lines, "G1 X10 Y10 E1.0")
	assert.Contains(t, lines, "G1 X20 Y20 E2.0")
}

func TestStream_ScalesExtrusionFromStartLayer(t *testing.T) {
	p := New(2.0, 1, 0) // scale begins at layer 1 (the second LAYER_CHANGE)
	stream := p.NewStream(strings.NewReader(sampleGcode))

	lines := drain(t, stream)
	assert.Contains(t, lines, "G1 X10 Y10 E1.0", "layer 0 untouched")
	assert.Contains(t, lines, "G1 X20 Y20 E4.00000", "layer 1 scaled by 2x")
}

func TestStream_VerbosityAnnotatesLayerMarkers(t *testing.T) {
	p := New(1.0, 0, 1)
	stream := p.NewStream(strings.NewReader(";LAYER_CHANGE\nG1 X1 Y1 E1\n"))

	line, ok, err := stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, line, "brick-layer=1")
}

func TestStream_IsDeterministic(t *testing.T) {
	p := New(1.5, 0, 0)

	first := drain(t, p.NewStream(strings.NewReader(sampleGcode)))
	second := drain(t, p.NewStream(strings.NewReader(sampleGcode)))

	assert.Equal(t, first, second)
}

func TestStream_LeavesNonExtrusionLinesAlone(t *testing.T) {
	p := New(3.0, 0, 0)
	stream := p.NewStream(strings.NewReader("G28\nM104 S200\n"))

	lines := drain(t, stream)
	assert.Equal(t, []string{"G28", "M104 S200"}, lines)
}
