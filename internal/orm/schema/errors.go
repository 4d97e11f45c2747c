package schema

import "errors"

var (
	// ErrFrozen is returned when registering metadata after Freeze
	ErrFrozen = errors.New("schema registry is frozen")

	// ErrNotFrozen is returned by lookups that require a frozen registry
	ErrNotFrozen = errors.New("schema registry is not frozen yet")

	// ErrUnknownEntity is returned when a relation targets an unregistered entity
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrDuplicateEntity is returned when an entity name is registered twice
	ErrDuplicateEntity = errors.New("entity already registered")

	// ErrMissingPrimary is returned when an entity has no primary column
	ErrMissingPrimary = errors.New("entity has no primary column")
)
