package validation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// ConstraintUnknown is reported when a rule panicked
const ConstraintUnknown = "unknown"

// FieldError is one violated constraint
type FieldError struct {
	Property   string      `json:"property"`
	Constraint string      `json:"constraint"`
	Message    string      `json:"message"`
	Value      interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (fe FieldError) Error() string {
	if fe.Property == "" {
		return fmt.Sprintf("%s: %s", fe.Constraint, fe.Message)
	}
	return fmt.Sprintf("%s: %s", fe.Property, fe.Message)
}

// NewFieldError creates a new FieldError
func NewFieldError(property, constraint, message string) FieldError {
	return FieldError{
		Property:   property,
		Constraint: constraint,
		Message:    message,
	}
}

// ValidationErrors maps an item path to the errors found there. The root item
// is keyed by its table name, nested items by their path from the root
// (e.g. "role", "articles.0").
//
// It is safe for concurrent use while being filled.
type ValidationErrors struct {
	mu     sync.Mutex
	Fields map[string][]FieldError
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Fields: make(map[string][]FieldError),
	}
}

// Add adds an error at path
func (ve *ValidationErrors) Add(path string, err FieldError) {
	ve.mu.Lock()
	defer ve.mu.Unlock()
	if ve.Fields == nil {
		ve.Fields = make(map[string][]FieldError)
	}
	ve.Fields[path] = append(ve.Fields[path], err)
}

// HasErrors returns true if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	if ve == nil {
		return false
	}
	return len(ve.Fields) > 0
}

// Count returns the total number of validation errors across all paths
func (ve *ValidationErrors) Count() int {
	count := 0
	for _, errs := range ve.Fields {
		count += len(errs)
	}
	return count
}

// Paths returns the paths holding errors, sorted
func (ve *ValidationErrors) Paths() []string {
	paths := make([]string, 0, len(ve.Fields))
	for path := range ve.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if !ve.HasErrors() {
		return "validation failed"
	}

	var messages []string
	for _, path := range ve.Paths() {
		for _, fe := range ve.Fields[path] {
			field := path
			if fe.Property != "" {
				field += "." + fe.Property
			}
			messages = append(messages, fmt.Sprintf("  - %s: %s", field, fe.Message))
		}
	}

	if len(messages) == 1 {
		return fmt.Sprintf("validation failed: %s", strings.TrimPrefix(messages[0], "  - "))
	}

	return fmt.Sprintf("validation failed:\n%s", strings.Join(messages, "\n"))
}

// MarshalJSON renders the path map
func (ve *ValidationErrors) MarshalJSON() ([]byte, error) {
	return json.Marshal(ve.Fields)
}
