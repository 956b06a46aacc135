package inference

import (
	"errors"
	"fmt"
)

// Kind classifies a remote failure for retry purposes
type Kind int

const (
	KindOther Kind = iota
	KindOverloaded
	KindRateLimited
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindOverloaded:
		return "overloaded"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	}
	return "other"
}

// Transient reports whether a failure of this kind is worth retrying
func (k Kind) Transient() bool {
	return k != KindOther
}

// RemoteError is a failure reported by, or on the way to, the model endpoint
type RemoteError struct {
	Kind    Kind
	Code    int
	Status  string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("inference: %s (%d %s): %s", e.Kind, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("inference: %s: %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first RemoteError in err's chain, or KindOther
func KindOf(err error) Kind {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind
	}
	return KindOther
}

// IsTransient reports whether err is an Overloaded, RateLimited or
// ServerError remote failure
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// SchemaParseError reports a structured response that is not valid JSON or
// does not have the expected shape
type SchemaParseError struct {
	Field   string
	Message string
	Err     error
}

func (e *SchemaParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("inference: invalid response at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("inference: invalid response: %s", e.Message)
}

func (e *SchemaParseError) Unwrap() error {
	return e.Err
}

// SchemaError builds a SchemaParseError for field
func SchemaError(field, format string, args ...any) error {
	return &SchemaParseError{Field: field, Message: fmt.Sprintf(format, args...)}
}
