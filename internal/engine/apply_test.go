package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bits0rcerer/wellenbrecher/internal/canvas"
	"github.com/bits0rcerer/wellenbrecher/internal/protocol"
)

func newTestCanvas(t *testing.T) *canvas.Canvas {
	t.Helper()
	cv, err := canvas.OpenMemory(4, 4)
	require.NoError(t, err)
	return cv
}

// TestEndToEndScenarios reproduces the first five canonical
// client/server exchanges directly against Apply, independent of any
// transport. The sixth (per-IP connection limit) needs real connections
// and is covered by TestScenarioPerIPConnectionLimit in poll_test.go.
func TestEndToEndScenarios(t *testing.T) {
	cv := newTestCanvas(t)
	const uid = 42

	// 1. SIZE
	out, err := Apply(cv, uid, protocol.Command{Kind: protocol.KindSize}, nil)
	require.NoError(t, err)
	require.Equal(t, "SIZE 4 4\n", string(out))

	// 2. PX 1 2 ff00aa then PX 1 2
	_, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindSetPixel, X: 1, Y: 2, RGBA: 0xff00aaff}, nil)
	require.NoError(t, err)
	out, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindGetPixel, X: 1, Y: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, "PX 1 2 ff00aa\n", string(out))
	got, _ := cv.Get(1, 2)
	require.Equal(t, uint32(0xff00aaff), got)
	gotUID, _ := cv.UID(1, 2)
	require.EqualValues(t, uid, gotUID)

	// 3. PX 0 0 80 (gray) then PX 0 0
	_, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindSetPixel, X: 0, Y: 0, RGBA: 0x808080ff}, nil)
	require.NoError(t, err)
	out, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindGetPixel, X: 0, Y: 0}, nil)
	require.NoError(t, err)
	require.Equal(t, "PX 0 0 808080\n", string(out))

	// 4. PX 0 0 ff000080 on a zero pixel (reset, use fresh coordinate)
	_, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindSetPixel, X: 3, Y: 3, RGBA: 0xff000080}, nil)
	require.NoError(t, err)
	out, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindGetPixel, X: 3, Y: 3}, nil)
	require.NoError(t, err)
	require.Equal(t, "PX 3 3 800000\n", string(out))

	// 5. PX 4 0 ff0000 (x == W) -> OutOfBounds, canvas unchanged
	before, _ := cv.Get(0, 0)
	_, err = Apply(cv, uid, protocol.Command{Kind: protocol.KindSetPixel, X: 4, Y: 0, RGBA: 0xff0000ff}, nil)
	require.ErrorIs(t, err, canvas.ErrOutOfBounds)
	after, _ := cv.Get(0, 0)
	require.Equal(t, before, after)
}

func TestApplyHelp(t *testing.T) {
	cv := newTestCanvas(t)
	out, err := Apply(cv, 1, protocol.Command{Kind: protocol.KindHelp}, nil)
	require.NoError(t, err)
	require.Contains(t, string(out), "HELP")
}

func TestIsSilent(t *testing.T) {
	require.True(t, IsSilent(protocol.Command{Kind: protocol.KindSetPixel}))
	require.False(t, IsSilent(protocol.Command{Kind: protocol.KindGetPixel}))
	require.False(t, IsSilent(protocol.Command{Kind: protocol.KindSize}))
	require.False(t, IsSilent(protocol.Command{Kind: protocol.KindHelp}))
}

func TestUIDAllocatorNeverZeroAndUnique(t *testing.T) {
	a := NewUIDAllocator()
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		uid, err := a.Next()
		require.NoError(t, err)
		require.NotZero(t, uid)
		require.False(t, seen[uid], "uid reused")
		seen[uid] = true
	}
}
