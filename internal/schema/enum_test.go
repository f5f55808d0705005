package schema

import (
	"testing"

	"piper/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputMethod_CaseInsensitive(t *testing.T) {
	for _, raw := range []string{"STDIN", "stdin", "StDiN", " stdin "} {
		v, err := ParseInputMethod(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, model.InputStdin, v)
	}
}

func TestParseScope_SeparatorsEquivalent(t *testing.T) {
	for _, raw := range []string{"REQUEST_RESPONSE", "request response", "Request_Response", "request  response"} {
		v, err := ParseScope(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, model.ScopeRequestResponse, v)
	}
}

func TestParseEnum_Unknown(t *testing.T) {
	_, err := ParseInputMethod("NOT_A_VALUE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEnum)
	assert.Contains(t, err.Error(), "NOT_A_VALUE")

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "NOT_A_VALUE", pe.Value)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Highlighters")
	require.NoError(t, err)
	assert.Equal(t, model.KindHighlighter, k)

	_, err = ParseKind("widgets")
	assert.ErrorIs(t, err, ErrInvalidEnum)
}
