package domain

import "fmt"

// ValidationError rejects a malformed ingestion payload at the gateway. The
// payload is never persisted; the caller sees a 4xx with the error kind.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransformError marks a raw event that failed cleaning. The event is
// persisted with this annotation and excluded from further automatic
// processing; reprocessing is an explicit manual operation.
type TransformError struct {
	Reason string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transform: %s", e.Reason)
}

func (e *TransformError) Unwrap() error { return e.Err }
