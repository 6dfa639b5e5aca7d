package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, input string) []Command {
	t.Helper()
	s := NewScanner(0)
	cmds, err := s.Feed([]byte(input), nil)
	require.NoError(t, err)
	return cmds
}

func TestParseSize(t *testing.T) {
	cmds := parseAll(t, "SIZE\n")
	require.Len(t, cmds, 1)
	require.Equal(t, KindSize, cmds[0].Kind)
}

func TestParseHelp(t *testing.T) {
	cmds := parseAll(t, "HELP\n")
	require.Equal(t, KindHelp, cmds[0].Kind)
}

func TestParsePixelGet(t *testing.T) {
	cmds := parseAll(t, "PX 1 2\n")
	require.Len(t, cmds, 1)
	require.Equal(t, KindGetPixel, cmds[0].Kind)
	require.EqualValues(t, 1, cmds[0].X)
	require.EqualValues(t, 2, cmds[0].Y)
}

func TestParsePixelSetOpaque(t *testing.T) {
	cmds := parseAll(t, "PX 1 2 ff00aa\n")
	require.Len(t, cmds, 1)
	require.Equal(t, KindSetPixel, cmds[0].Kind)
	require.Equal(t, uint32(0xff00aaff), cmds[0].RGBA)
}

func TestParsePixelSetBlended(t *testing.T) {
	cmds := parseAll(t, "PX 1 2 ff000080\n")
	require.Len(t, cmds, 1)
	require.Equal(t, uint32(0xff000080), cmds[0].RGBA)
}

func TestParsePixelSetGray(t *testing.T) {
	cmds := parseAll(t, "PX 0 0 80\n")
	require.Len(t, cmds, 1)
	require.Equal(t, uint32(0x808080ff), cmds[0].RGBA)
}

func TestParseCaseInsensitiveHex(t *testing.T) {
	cmds := parseAll(t, "PX 0 0 FF00AA\n")
	require.Equal(t, uint32(0xff00aaff), cmds[0].RGBA)
}

func TestParseCRLF(t *testing.T) {
	cmds := parseAll(t, "SIZE\r\n")
	require.Len(t, cmds, 1)
	require.Equal(t, KindSize, cmds[0].Kind)
}

func TestParseLeadingZeros(t *testing.T) {
	cmds := parseAll(t, "PX 007 0009\n")
	require.EqualValues(t, 7, cmds[0].X)
	require.EqualValues(t, 9, cmds[0].Y)
}

func TestBadCommandUnknownVerb(t *testing.T) {
	s := NewScanner(0)
	_, err := s.Feed([]byte("WIGGLE\n"), nil)
	require.Error(t, err)
	var bad *BadCommandError
	require.ErrorAs(t, err, &bad)
}

func TestBadCommandMalformedColor(t *testing.T) {
	s := NewScanner(0)
	_, err := s.Feed([]byte("PX 0 0 zzzzzz\n"), nil)
	require.Error(t, err)
}

func TestBadCommandWrongColorLength(t *testing.T) {
	s := NewScanner(0)
	_, err := s.Feed([]byte("PX 0 0 fff\n"), nil)
	require.Error(t, err)
}

func TestBadCommandLeadingPlus(t *testing.T) {
	s := NewScanner(0)
	_, err := s.Feed([]byte("PX +1 0\n"), nil)
	require.Error(t, err)
}

func TestLineTooLong(t *testing.T) {
	s := NewScanner(8)
	_, err := s.Feed([]byte("PX 111111111111111111111"), nil)
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestMultipleCommandsInOneFeed(t *testing.T) {
	cmds := parseAll(t, "SIZE\nPX 1 2\nPX 0 0 ff0000\n")
	require.Len(t, cmds, 3)
	require.Equal(t, KindSize, cmds[0].Kind)
	require.Equal(t, KindGetPixel, cmds[1].Kind)
	require.Equal(t, KindSetPixel, cmds[2].Kind)
}

// TestFramingRobustness is the "any chunking of the input byte
// stream that preserves byte order produces the same sequence of
// command applications" property: feed the same full stream split at
// every possible byte boundary and require an identical parse result.
func TestFramingRobustness(t *testing.T) {
	full := "SIZE\nPX 1 2\nPX 0 0 ff00aa80\nPX 4 4\n"
	want := parseAll(t, full)

	for split := 0; split <= len(full); split++ {
		s := NewScanner(0)
		var got []Command
		var err error
		got, err = s.Feed([]byte(full[:split]), got)
		require.NoError(t, err)
		got, err = s.Feed([]byte(full[split:]), got)
		require.NoError(t, err)
		require.Equal(t, want, got, "split at byte %d", split)
	}
}

func TestFramingRobustnessByteAtATime(t *testing.T) {
	full := "PX 1 2 abcdef\nSIZE\nHELP\n"
	want := parseAll(t, full)

	s := NewScanner(0)
	var got []Command
	for i := 0; i < len(full); i++ {
		var err error
		got, err = s.Feed([]byte{full[i]}, got)
		require.NoError(t, err)
	}
	require.Equal(t, want, got)
}

func TestFormatSize(t *testing.T) {
	out := AppendSize(nil, 4, 4)
	require.Equal(t, "SIZE 4 4\n", string(out))
}

func TestFormatPixel(t *testing.T) {
	out := AppendPixel(nil, 1, 2, 0xff00aaff)
	require.Equal(t, "PX 1 2 ff00aa\n", string(out))
}

func TestFormatError(t *testing.T) {
	out := AppendError(nil, "connection limit")
	require.Equal(t, "ERROR connection limit\n", string(out))
}
