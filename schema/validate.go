package schema

import "fmt"

// ValidationError reports a violated TypeMapRegistry invariant (spec.md
// §4.6 validations 1-4), adapted from the teacher's migration-diff
// ValidationError to entity/column registration instead of schema diffing.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema: %s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("schema: %s: %s", e.Table, e.Message)
}
