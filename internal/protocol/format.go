package protocol

import "strconv"

const hexDigits = "0123456789abcdef"

// AppendSize appends "SIZE <w> <h>\n" to dst.
func AppendSize(dst []byte, w, h uint32) []byte {
	dst = append(dst, "SIZE "...)
	dst = strconv.AppendUint(dst, uint64(w), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, uint64(h), 10)
	dst = append(dst, '\n')
	return dst
}

// AppendPixel appends "PX <x> <y> <rrggbb>\n" to dst; rgba's alpha byte
// is dropped (read responses never carry alpha).
func AppendPixel(dst []byte, x, y uint32, rgba uint32) []byte {
	dst = append(dst, "PX "...)
	dst = strconv.AppendUint(dst, uint64(x), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, uint64(y), 10)
	dst = append(dst, ' ')
	dst = appendHex6(dst, rgba>>8)
	dst = append(dst, '\n')
	return dst
}

// AppendError appends "ERROR <reason>\n" to dst.
func AppendError(dst []byte, reason string) []byte {
	dst = append(dst, "ERROR "...)
	dst = append(dst, reason...)
	dst = append(dst, '\n')
	return dst
}

// AppendHelp appends the informational HELP text to dst.
func AppendHelp(dst []byte) []byte {
	return append(dst, HelpText...)
}

func appendHex6(dst []byte, rgb uint32) []byte {
	var tmp [6]byte
	tmp[0] = hexDigits[(rgb>>20)&0xf]
	tmp[1] = hexDigits[(rgb>>16)&0xf]
	tmp[2] = hexDigits[(rgb>>12)&0xf]
	tmp[3] = hexDigits[(rgb>>8)&0xf]
	tmp[4] = hexDigits[(rgb>>4)&0xf]
	tmp[5] = hexDigits[rgb&0xf]
	return append(dst, tmp[:]...)
}
