package canlib

import "errors"

// ErrShortFrame is returned by an Unpack function when the payload is
// smaller than the message's fixed wire length.
var ErrShortFrame = errors.New("canlib: short frame")
