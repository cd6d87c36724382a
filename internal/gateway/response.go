package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// statusKey carries a non-200 status inside a handler body. It is
// removed before the body is written.
const statusKey = "_statusCode"

// Body is a JSON object produced by a handler.
type Body map[string]any

// withStatus tags b with an HTTP status and returns it.
func (b Body) withStatus(status int) Body {
	b[statusKey] = status
	return b
}

// errorBody is the {ok:false, error, message} shape every failure uses.
func errorBody(code, message string) Body {
	return Body{"ok": false, "error": code, "message": message}
}

// failure is errorBody with a status attached.
func failure(status int, code, message string) Body {
	return errorBody(code, message).withStatus(status)
}

// statusText is the reason phrase for the codes the gateway emits.
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 413:
		return "Payload Too Large"
	case 429:
		return "Too Many Requests"
	default:
		return "Internal Server Error"
	}
}

// finalize strips the internal status field and encodes the body.
func finalize(b Body) (int, []byte, error) {
	status := 200
	if v, ok := b[statusKey]; ok {
		if code, ok := v.(int); ok {
			status = code
		}
		delete(b, statusKey)
	}
	data, err := encodeJSON(b)
	if err != nil {
		return 500, nil, err
	}
	return status, data, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// writeResponse writes a complete one-shot HTTP/1.1 response.
func writeResponse(w io.Writer, status int, body []byte) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	bw.WriteString("Content-Type: application/json; charset=utf-8\r\n")
	bw.WriteString("Connection: close\r\n")
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	bw.WriteString("\r\n")
	bw.Write(body)
	return bw.Flush()
}
