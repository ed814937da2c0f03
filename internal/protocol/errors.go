package protocol

import (
	"errors"
	"fmt"
)

// ErrNotReady means the file exists but does not yet hold a complete account
// block. Callers retry on the next cycle.
var ErrNotReady = errors.New("state file not ready")

// ProtocolError describes a malformed line. It never aborts a whole file.
type ProtocolError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Text)
}

func protoErr(text, format string, args ...any) *ProtocolError {
	return &ProtocolError{Text: text, Reason: fmt.Sprintf(format, args...)}
}
