// Package validate turns raw editor input into accepted values or keyed
// field errors. Each rule owns exactly one key in the error map: it either
// records its message or clears it, and never touches another rule's key.
package validate

import (
	"strconv"
	"strings"
)

// Field keys used in the error map.
const (
	FieldName         = "name"
	FieldMemory       = "memory_bytes"
	FieldMaxProcesses = "max_processes"
)

// Errors maps a field key to a human-readable message. A field is either
// present with an error or absent meaning valid.
type Errors map[string]string

// NewErrors returns an empty error map.
func NewErrors() Errors { return make(Errors) }

// Empty reports whether no field currently has an error. Saving a profile
// is only permitted while Empty is true.
func (e Errors) Empty() bool { return len(e) == 0 }

// Get returns the message recorded for a field, or "".
func (e Errors) Get(field string) string { return e[field] }

// Clone returns an independent copy for presentation snapshots.
func (e Errors) Clone() Errors {
	out := make(Errors, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func (e Errors) set(field, msg string) { e[field] = msg }
func (e Errors) clear(field string)    { delete(e, field) }

// Name accepts any input whose trimmed form is non-empty. The accepted value
// is the input as given, untrimmed. On empty input the current name keeps
// its previous value and the error "Name cannot be empty" is recorded.
func Name(errs Errors, input string) (string, bool) {
	if strings.TrimSpace(input) == "" {
		errs.set(FieldName, "Name cannot be empty")
		return "", false
	}
	errs.clear(FieldName)
	return input, true
}

// Memory converts a numeric string plus a unit into a byte limit. Three
// outcomes: a value (set the limit), nil with ok (empty input clears the
// limit to unlimited), or not ok with "Must be a number" recorded.
func Memory(errs Errors, input string, unit MemoryUnit) (*uint64, bool) {
	v, err := strconv.ParseFloat(input, 64)
	if err != nil {
		if input == "" {
			errs.clear(FieldMemory)
			return nil, true
		}
		errs.set(FieldMemory, "Must be a number")
		return nil, false
	}
	errs.clear(FieldMemory)
	bytes := unit.ToBytes(v)
	return &bytes, true
}

// MaxProcesses parses a non-negative integer process limit. Unlike Memory,
// empty input does not clear the limit: it fails the parse and records
// "Must be a positive number".
func MaxProcesses(errs Errors, input string) (uint32, bool) {
	v, err := strconv.ParseUint(input, 10, 32)
	if err != nil {
		errs.set(FieldMaxProcesses, "Must be a positive number")
		return 0, false
	}
	errs.clear(FieldMaxProcesses)
	return uint32(v), true
}

// PathList selects which ordered path sequence a path rule applies to.
type PathList string

const (
	AllowedPaths PathList = "Allowed"
	DeniedPaths  PathList = "Denied"
)

// ErrorKey returns the field key a path list's errors are recorded under.
func (l PathList) ErrorKey() string { return string(l) + "_path" }

// Path accepts a path string for appending to a list. Empty trimmed input
// records "Path cannot be empty" under the list's key; otherwise the raw
// input is accepted and the key cleared.
func Path(errs Errors, list PathList, input string) (string, bool) {
	if strings.TrimSpace(input) == "" {
		errs.set(list.ErrorKey(), "Path cannot be empty")
		return "", false
	}
	errs.clear(list.ErrorKey())
	return input, true
}
