package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no delivery exists for the given identifier.
	ErrNotFound = errors.New("delivery not found")
	// ErrDuplicateIdentifier is returned when a delivery identifier is already taken.
	ErrDuplicateIdentifier = errors.New("duplicate delivery identifier")
	// ErrIdentifierExhausted is returned when no free identifier could be generated.
	ErrIdentifierExhausted = errors.New("could not generate a unique delivery identifier")
	// ErrMissingFields is returned when a required field is absent.
	ErrMissingFields = errors.New("missing required fields")
	// ErrInvalidField is returned when a present field violates its constraints.
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidStatus is returned for status values outside the known set.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidLocation is returned when a location payload is not a valid point.
	ErrInvalidLocation = errors.New("invalid location")
	// ErrConflict is returned by stores that gave up retrying a contended write.
	ErrConflict = errors.New("concurrent modification")
)

// ValidationError names the fields that failed a rule.
type ValidationError struct {
	Kind   error
	Fields []string
	Rule   string
}

func (e *ValidationError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, strings.Join(e.Fields, ", "), e.Rule)
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// LocationError carries the specific rule a location payload violated.
type LocationError struct {
	Reason string
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidLocation, e.Reason)
}

func (e *LocationError) Unwrap() error {
	return ErrInvalidLocation
}
