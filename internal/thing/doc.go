// Package thing defines the immutable value model shared by every layer of
// the sync engine.
//
// A Thing is a typed bag of declared fields. Absent fields are undeclared;
// an explicit Null is declared. Things never change after construction:
// With, Without, Merge and Project all return new Things.
//
// Key design constraints:
//   - NO float values anywhere, integers are int64
//   - identity is derived from the identity fields only, never from other values
//   - canonical JSON (RFC 8785) is the only input to identity hashing
//   - this package imports nothing internal
package thing
