package validation

import (
	"errors"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

const reasonSchema = `{
  "type": "object",
  "required": ["reason"],
  "properties": {"reason": {"type": "string", "maxLength": 5}},
  "additionalProperties": false
}`

func TestValidator(t *testing.T) {
	v := NewValidator()
	v.Register("reason", []byte(reasonSchema))

	require.NoError(t, v.Validate("reason", []byte(`{"reason":"ok"}`)))

	err := v.Validate("reason", []byte(`{"reason":"much too long"}`))
	var schemaErr *jsonschema.ValidationError
	require.True(t, errors.As(err, &schemaErr))

	require.Error(t, v.Validate("reason", []byte(`{"reason":`)))
	require.Error(t, v.Validate("reason", nil))
	require.ErrorIs(t, v.Validate("missing", []byte(`{}`)), ErrUnknownSchema)
}
