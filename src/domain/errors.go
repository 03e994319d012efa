package domain

import "fmt"

// CompileError carries the fragment of the filter that could not be compiled.
type CompileError struct {
	Fragment string
	Reason   string
}

func (e *CompileError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("%s: %s", ErrCompile, e.Reason)
	}
	return fmt.Sprintf("%s: %s near %q", ErrCompile, e.Reason, e.Fragment)
}

func (e *CompileError) Unwrap() error {
	return ErrCompile
}

func NewCompileError(fragment, format string, args ...any) *CompileError {
	return &CompileError{Fragment: fragment, Reason: fmt.Sprintf(format, args...)}
}
