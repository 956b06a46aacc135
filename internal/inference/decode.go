package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Validator is implemented by response types that check their own shape
// after JSON decoding.
type Validator interface {
	Validate() error
}

// Decode parses raw into v and validates it. Unknown fields are ignored so a
// model adding extra keys does not fail the call; missing or malformed
// required fields do. Every failure is a *SchemaParseError.
func Decode(raw []byte, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &SchemaParseError{Message: "empty response"}
	}

	if err := json.Unmarshal(trimmed, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &SchemaParseError{
				Field:   typeErr.Field,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
				Err:     err,
			}
		}
		return &SchemaParseError{Message: "malformed JSON", Err: err}
	}

	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			var parseErr *SchemaParseError
			if errors.As(err, &parseErr) {
				return err
			}
			return &SchemaParseError{Message: err.Error(), Err: err}
		}
	}
	return nil
}
