package codec

import "errors"

var (
	// ErrDecode reports malformed bytes or an unknown top-level type.
	ErrDecode = errors.New("codec: decode failed")

	// ErrEncode reports a value that cannot be encoded.
	ErrEncode = errors.New("codec: encode failed")

	// ErrCorrupt reports a blob whose checksum does not match.
	ErrCorrupt = errors.New("codec: corrupt blob")
)
