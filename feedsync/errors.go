package feedsync

import (
	"fmt"
)

// network or non-success status failure. the owning query entry moves to
// rejected and retains this error for the UI.
type TransportError struct {
	StatusCode int
	Message    string
}

func (self *TransportError) Error() string {
	if self.StatusCode != 0 {
		return fmt.Sprintf("transport error (%d): %s", self.StatusCode, self.Message)
	}
	return fmt.Sprintf("transport error: %s", self.Message)
}

// malformed entity, e.g. missing id. fails fast, never silently dropped.
type ValidationError struct {
	Message string
}

func (self *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", self.Message)
}
