package wire

import "errors"

var (
	errShortBuffer = errors.New("wire: buffer shorter than declared size")
	errBadMagic    = errors.New("wire: bad magic number")
)
