package model

import "fmt"

// ValidationError reports a malformed command.  Handlers should map it to
// 400 Bad Request; nothing is written when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
