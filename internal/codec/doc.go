// Package codec encodes Things to a compact, forward-compatible binary form.
//
// # Wire Format
//
// The format reuses the protobuf wire primitives (google.golang.org/protobuf/encoding/protowire):
// varints, zig-zag sign folding and tagged fields. A Thing is an envelope:
//
//	1: string  type name (the variant discriminator)
//	2: bytes   body, one field per declared value, tagged with the schema field number
//	3: bytes   packed varints, field numbers explicitly declared Null
//	4: varint  1 when sensitive fields were encrypted on write
//
// Body values by schema kind:
//
//	string -> length-delimited      int   -> zig-zag varint
//	bool   -> varint                thing -> nested envelope
//	list   -> repeated value messages (tag 1)
//	map    -> repeated entries (1: key, 2: value message)
//
// A value message carries exactly one tag naming its kind (1 null, 2 string,
// 3 int, 4 bool, 5 list, 6 map, 7 thing) so container elements describe
// themselves.
//
// # Forward Compatibility
//
// Unknown field numbers, unknown variant types inside fields, and wire
// types that disagree with the running schema are skipped, never fatal.
// Only an unknown top-level type or malformed bytes fail with ErrDecode.
//
// # Pipeline
//
// Encoded bytes may be wrapped by a Pipeline of invertible layers
// (checksum, compression, sealing). Wrap applies layers in order and
// Unwrap in exact reverse, so write and read paths always mirror.
package codec
