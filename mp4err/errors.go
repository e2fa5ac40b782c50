// Package mp4err defines the stable error taxonomy shared by every
// subsystem in this module: box codec, sample table indexer, demuxer
// and muxers all return errors built from this package instead of ad
// hoc fmt.Errorf values, so callers can dispatch on Kind with errors.As.
package mp4err

import "fmt"

// Kind identifies the category of a decode/encode/session failure.
type Kind int

const (
	// InvalidInput means the caller supplied a value that violates a
	// precondition (zero sample entry index, interior-null string,
	// mismatched timescale on append).
	InvalidInput Kind = iota
	// InvalidData means decoded bytes violate a structural or semantic
	// invariant of the format (bad box size, disagreeing sample counts,
	// a reserved bit holding the wrong constant).
	InvalidData
	// InvalidState means the operation is disallowed in the session's
	// current phase (append after finalize, finalize with no samples).
	InvalidState
	// Unsupported means the input is well-formed but falls outside the
	// implemented subset (an SLConfigDescriptor.predefined other than 2).
	Unsupported
	// NoMoreSamples means sample iteration has reached the end; it is
	// not a fatal condition.
	NoMoreSamples
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case InvalidData:
		return "InvalidData"
	case InvalidState:
		return "InvalidState"
	case Unsupported:
		return "Unsupported"
	case NoMoreSamples:
		return "NoMoreSamples"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the module. Box is
// the FourCC of the box the error originates from, when applicable;
// Offset is the byte offset of the offending data, or -1 when unset.
type Error struct {
	Kind   Kind
	Box    string
	Offset int64
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Box != "" && e.Offset >= 0:
		return fmt.Sprintf("%s: %s (box %q at offset %d)", e.Kind, e.Msg, e.Box, e.Offset)
	case e.Box != "":
		return fmt.Sprintf("%s: %s (box %q)", e.Kind, e.Msg, e.Box)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no box/offset context.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// WithBox attaches a box FourCC to an error for diagnostics.
func (e *Error) WithBox(box string) *Error {
	e2 := *e
	e2.Box = box
	return &e2
}

// WithOffset attaches a byte offset to an error for diagnostics.
func (e *Error) WithOffset(off int64) *Error {
	e2 := *e
	e2.Offset = off
	return &e2
}

// Wrap builds an *Error that carries an underlying error (usually from
// a nested box decode), attaching the enclosing box's FourCC. When err is
// itself an *Error its Kind is kept; kind applies to any other error.
func Wrap(kind Kind, box string, err error) *Error {
	if inner, ok := err.(*Error); ok {
		kind = inner.Kind
	}
	return &Error{Kind: kind, Box: box, Offset: -1, Msg: err.Error(), Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if me, ok := err.(*Error); ok {
			e = me
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}

// InputRequired is a sentinel the demuxer returns from handle_input-style
// calls to request more bytes. It is carried on the same error channel as
// every other failure so callers can type-switch uniformly. The demuxer
// always sets a non-negative Size; Error still prints a negative Size
// as a request to EOF.
type InputRequired struct {
	Position int64
	Size     int64
}

func (e *InputRequired) Error() string {
	if e.Size < 0 {
		return fmt.Sprintf("input required at position %d to EOF", e.Position)
	}
	return fmt.Sprintf("input required at position %d (%d bytes)", e.Position, e.Size)
}
