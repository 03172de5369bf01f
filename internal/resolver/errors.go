package resolver

import (
	"fmt"
	"strings"
)

// ValidationError reports a raw record missing required address fields.
// Ingestion rejects the record without touching existing state.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resolver: missing required fields: %s", strings.Join(e.Missing, ", "))
}

// maxMergeAttempts bounds the optimistic-lock retry loop for concurrent
// merges to the same property.
const maxMergeAttempts = 5
