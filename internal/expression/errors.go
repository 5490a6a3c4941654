package expression

import "fmt"

// MalformedRowError describes a data row that was excluded from a dataset.
type MalformedRowError struct {
	Line   int
	Gene   string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Gene == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d (%s): %s", e.Line, e.Gene, e.Reason)
}

// Diagnostic converts the error into the record returned to callers.
func (e *MalformedRowError) Diagnostic() Diagnostic {
	return Diagnostic{Kind: KindMalformedRow, Line: e.Line, Gene: e.Gene, Reason: e.Reason}
}

// HeaderError reports a header row that does not describe two sample groups.
type HeaderError struct {
	Reason string
}

func (e *HeaderError) Error() string {
	return "invalid header: " + e.Reason
}
