package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginPayload struct {
	Phone    string `json:"phone_number"`
	Password string `json:"password"`
}

func TestDecodeRequestEmbeddedStringPayload(t *testing.T) {
	line := `{"command":"LOGIN","payload":"{\"phone_number\":\"+100\",\"password\":\"pw|with,chars\"}"}` + "\n"

	req, err := DecodeRequest([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, Login, req.Command)

	var p loginPayload
	require.NoError(t, req.Decode(&p))
	assert.Equal(t, "+100", p.Phone)
	assert.Equal(t, "pw|with,chars", p.Password)
}

func TestDecodeRequestObjectPayload(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"command":"LOGIN","payload":{"phone_number":"+1"}}`))
	require.NoError(t, err)

	var p loginPayload
	require.NoError(t, req.Decode(&p))
	assert.Equal(t, "+1", p.Phone)
}

func TestDecodeRequestMissingPayload(t *testing.T) {
	for _, line := range []string{
		`{"command":"GET_CONTACTS"}`,
		`{"command":"GET_CONTACTS","payload":null}`,
		`{"command":"GET_CONTACTS","payload":""}`,
	} {
		req, err := DecodeRequest([]byte(line))
		require.NoError(t, err, line)

		var m map[string]any
		require.NoError(t, req.Decode(&m), line)
		assert.Empty(t, m)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"auth|user|pw",
		`{"command":`,
		`{"payload":"{}"}`,
		`[1,2,3]`,
	} {
		_, err := DecodeRequest([]byte(line))
		assert.ErrorIs(t, err, ErrInvalidRequest, "line %q", line)
	}
}

func TestRequestDecodeBadPayload(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"command":"LOGIN","payload":"not json"}`))
	require.NoError(t, err)

	var p loginPayload
	assert.ErrorIs(t, req.Decode(&p), ErrInvalidPayload)
}

func TestNewRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(Login, loginPayload{Phone: "+7", Password: "secret"})
	require.NoError(t, err)

	line, err := req.Encode()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(line), "\n"))
	assert.Equal(t, 1, strings.Count(string(line), "\n"))

	decoded, err := DecodeRequest(line)
	require.NoError(t, err)

	var p loginPayload
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, "+7", p.Phone)
	assert.Equal(t, "secret", p.Password)
}

func TestResponseEncoding(t *testing.T) {
	line, err := Fail("Authentication required. Please log in.").Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"success":false,"message":"Authentication required. Please log in.","payload":null}`+"\n", string(line))

	line, err = WithPayload(true, ReadyToReceiveFile, map[string]string{"transfer_id": "abc"}).Encode()
	require.NoError(t, err)

	resp, err := DecodeResponse(line)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, ReadyToReceiveFile, resp.Message)

	var payload map[string]string
	require.NoError(t, resp.DecodePayload(&payload))
	assert.Equal(t, "abc", payload["transfer_id"])
}

func TestDecodePayloadEmpty(t *testing.T) {
	var v map[string]any
	assert.ErrorIs(t, OK("done").DecodePayload(&v), ErrInvalidPayload)
}
