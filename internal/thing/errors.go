package thing

import "errors"

var (
	// ErrSchema reports an invalid type definition or registry operation.
	ErrSchema = errors.New("thing: invalid schema")

	// ErrNoIdentity is returned when an identity is requested from a thing
	// whose type is identity-less or whose identity fields are not declared.
	ErrNoIdentity = errors.New("thing: no identity")

	// ErrUndeclaredField is returned when setting a field the type does not declare.
	ErrUndeclaredField = errors.New("thing: undeclared field")

	// ErrKindMismatch is returned when a value does not match the field kind.
	ErrKindMismatch = errors.New("thing: value kind mismatch")

	// ErrJSON reports malformed or schema-incompatible JSON input.
	ErrJSON = errors.New("thing: invalid json")
)
