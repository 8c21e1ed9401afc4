package ticket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
)

func TestPayloadRoundTrip(t *testing.T) {
	original := Payload{
		Email:     "student@school.kr",
		Name:      "Kim Jiho",
		ClassInfo: "2-3",
		Date:      "2025-04-18",
		Nonce:     "abc123",
	}

	data, err := original.Encode()
	require.NoError(t, err)

	parsed, err := ParsePayload(data)
	require.NoError(t, err)
	require.Equal(t, original, parsed)
}

func TestParsePayloadMalformedJSON(t *testing.T) {
	_, err := ParsePayload([]byte("not json at all"))
	require.ErrorIs(t, err, appErrors.ErrTicketInvalidFormat)
}

func TestParsePayloadMissingFields(t *testing.T) {
	base := map[string]string{
		"email":     "student@school.kr",
		"name":      "Kim Jiho",
		"classInfo": "2-3",
		"date":      "2025-04-18",
		"nonce":     "abc123",
	}

	for _, field := range []string{"email", "name", "classInfo", "date", "nonce"} {
		partial := make(map[string]string, len(base)-1)
		for k, v := range base {
			if k != field {
				partial[k] = v
			}
		}
		data, err := json.Marshal(partial)
		require.NoError(t, err)

		_, err = ParsePayload(data)
		require.ErrorIs(t, err, appErrors.ErrTicketInvalidFormat, "missing %s", field)
	}
}

func TestParsePayloadBlankFieldRejected(t *testing.T) {
	data, err := json.Marshal(map[string]string{
		"email":     "student@school.kr",
		"name":      "  ",
		"classInfo": "2-3",
		"date":      "2025-04-18",
		"nonce":     "abc123",
	})
	require.NoError(t, err)

	_, err = ParsePayload(data)
	require.ErrorIs(t, err, appErrors.ErrTicketInvalidFormat)
}

func TestEncodeRejectsIncompletePayload(t *testing.T) {
	_, err := Payload{Email: "x@y.z", Date: "2025-04-18"}.Encode()
	require.ErrorIs(t, err, appErrors.ErrTicketInvalidFormat)
}
