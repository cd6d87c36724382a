package gateway

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalize_StripsStatus(t *testing.T) {
	status, data, err := finalize(failure(403, "forbidden", "nope"))
	require.NoError(t, err)

	assert.Equal(t, 403, status)
	assert.JSONEq(t, `{"ok":false,"error":"forbidden","message":"nope"}`, string(data))
	assert.NotContains(t, string(data), statusKey)
}

func TestFinalize_DefaultsTo200(t *testing.T) {
	status, data, err := finalize(Body{"ok": true, "output": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"ok":true,"output":"<a&b>"}`, string(data))
}

func TestWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResponse(&buf, 429, []byte(`{"ok":false}`)))

	assert.Equal(t, "HTTP/1.1 429 Too Many Requests\r\n"+
		"Content-Type: application/json; charset=utf-8\r\n"+
		"Connection: close\r\n"+
		"Content-Length: 12\r\n"+
		"\r\n"+
		`{"ok":false}`, buf.String())
}

func TestStatusText(t *testing.T) {
	tests := map[int]string{
		200: "OK",
		400: "Bad Request",
		401: "Unauthorized",
		403: "Forbidden",
		404: "Not Found",
		413: "Payload Too Large",
		429: "Too Many Requests",
		500: "Internal Server Error",
		502: "Internal Server Error",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusText(code), "code %d", code)
	}
}
