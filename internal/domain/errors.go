package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownDuration is returned when a degen duration matches no preset.
var ErrUnknownDuration = errors.New("invalid duration")

// ValidationError carries client-correctable input problems keyed by field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UnknownTaskError reports task ids that the catalog does not price for the
// given platform and type.
type UnknownTaskError struct {
	Platform Platform
	Type     MissionType
	TaskIDs  []string
}

func (e UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown tasks for %s/%s: %s", e.Platform, e.Type, strings.Join(e.TaskIDs, ","))
}
