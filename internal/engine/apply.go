package engine

import (
	"github.com/bits0rcerer/wellenbrecher/internal/canvas"
	"github.com/bits0rcerer/wellenbrecher/internal/protocol"
)

// Apply executes one parsed command against cv on behalf of the
// connection identified by uid, appending any response bytes to out and
// returning the extended slice.
//
// This is the transport-free heart of the "Processing" state: both
// the io_uring engine and the portable net-based engine call exactly
// this function, so the command-application semantics (and their test
// coverage) are shared rather than duplicated per transport.
func Apply(cv *canvas.Canvas, uid uint32, cmd protocol.Command, out []byte) ([]byte, error) {
	switch cmd.Kind {
	case protocol.KindHelp:
		return protocol.AppendHelp(out), nil

	case protocol.KindSize:
		return protocol.AppendSize(out, cv.Width(), cv.Height()), nil

	case protocol.KindGetPixel:
		rgba, err := cv.Get(cmd.X, cmd.Y)
		if err != nil {
			return out, err
		}
		return protocol.AppendPixel(out, cmd.X, cmd.Y, rgba), nil

	case protocol.KindSetPixel:
		if err := cv.Blend(cmd.X, cmd.Y, cmd.RGBA, uid); err != nil {
			return out, err
		}
		return out, nil

	default:
		return out, &protocol.BadCommandError{Reason: "unrecognized internal command kind"}
	}
}

// IsSilent reports whether cmd never produces response bytes on
// success, used by the engines to decide whether a command can ever
// grow the write buffer: set-pixel commands never grow the write buffer.
func IsSilent(cmd protocol.Command) bool {
	return cmd.Kind == protocol.KindSetPixel
}
