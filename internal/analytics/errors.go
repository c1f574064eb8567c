package analytics

import "errors"

var (
	// ErrInvalidArgument marks missing or unrecognized query input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidFormat marks query input that does not parse.
	ErrInvalidFormat = errors.New("invalid format")
)

// QueryError carries a caller-facing message and one of the sentinel kinds above.
type QueryError struct {
	Kind error
	Msg  string
}

func (e *QueryError) Error() string { return e.Msg }

func (e *QueryError) Unwrap() error { return e.Kind }

func invalidArgument(msg string) error {
	return &QueryError{Kind: ErrInvalidArgument, Msg: msg}
}

func invalidFormat(msg string) error {
	return &QueryError{Kind: ErrInvalidFormat, Msg: msg}
}
