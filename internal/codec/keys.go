package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodeKeys encodes a list of strings as repeated tag-1 fields.
func EncodeKeys(keys []string) []byte {
	var b []byte
	for _, k := range keys {
		b = protowire.AppendTag(b, tagElem, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	return b
}

// DecodeKeys is the inverse of EncodeKeys. Unknown tags are skipped.
func DecodeKeys(b []byte) ([]string, error) {
	var keys []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		if num == tagElem && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrDecode, protowire.ParseError(n))
			}
			keys = append(keys, s)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return keys, nil
}
