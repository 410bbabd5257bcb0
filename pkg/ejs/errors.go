package ejs

import (
	"errors"
	"fmt"
)

// Sentinel errors for malformed templates. Every compile-time failure wraps
// one of these in a *ParseError so callers can test with errors.Is.
var (
	ErrUnterminatedTag       = errors.New("could not find matching close tag")
	ErrEmptyDelimiter        = errors.New("open and close delimiters must not be empty")
	ErrMissingPayload        = errors.New("directive is missing its argument")
	ErrUnmatchedEndblock     = errors.New("endblock found with no matching block")
	ErrEndblockMismatch      = errors.New("endblock name does not match open block")
	ErrNestedBlock           = errors.New("block found with no matching endblock")
	ErrDuplicateExtend       = errors.New("extend may only be used once per template")
	ErrExtendInBlock         = errors.New("extend cannot be used inside a block")
	ErrUnclosedBlock         = errors.New("expecting endblock, eof found")
	ErrSblockInExtend        = errors.New("sblock cannot be used to declare a block")
	ErrFilenameRequired      = errors.New("filename option is required for includes and extensions")
	ErrCircularReference     = errors.New("circular include or extend")
	ErrCacheRequiresFilename = errors.New(`"cache" option requires "filename"`)
)

// ParseError describes a structural problem found while compiling a template.
type ParseError struct {
	Filename string
	Line     int
	Err      error
}

func (e *ParseError) Error() string {
	name := e.Filename
	if name == "" {
		name = "ejs"
	}
	return fmt.Sprintf("%s:%d: %v", name, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
