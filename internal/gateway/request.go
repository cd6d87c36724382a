// Package gateway is the loopback HTTP/1.1 JSON API. Requests are parsed
// by hand off the raw connection so every read is bounded.
package gateway

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Limits caps what the parser will buffer from one connection.
type Limits struct {
	RequestLineBytes int
	HeaderLineBytes  int
	MaxHeaders       int
	MaxBodyBytes     int
}

// DefaultLimits returns the standard parser caps.
func DefaultLimits() Limits {
	return Limits{
		RequestLineBytes: 4096,
		HeaderLineBytes:  4096,
		MaxHeaders:       64,
		MaxBodyBytes:     16 * 1024,
	}
}

// Request is one parsed HTTP request. Header names are lower-cased.
type Request struct {
	ID      string
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Header returns the value of a header by case-insensitive name.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// RouteKey is the "METHOD:/path" key used for rate limits.
func (r *Request) RouteKey() string {
	return r.Method + ":" + r.Path
}

// httpError is a protocol failure answered before routing.
type httpError struct {
	status  int
	code    string
	message string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.code, e.message)
}

func badRequest(message string) *httpError {
	return &httpError{status: 400, code: "bad_request", message: message}
}

func tooLarge(message string) *httpError {
	return &httpError{status: 413, code: "payload_too_large", message: message}
}

// readLine reads up to '\n' without buffering more than max bytes.
// CR bytes are dropped. ok is false when the stream ended before any byte.
func readLine(r *bufio.Reader, max int) (line string, ok bool, err error) {
	var sb strings.Builder
	read := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", false, err
		}
		read = true
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if sb.Len() > max {
			return "", false, tooLarge("Header line too large")
		}
	}
	if !read {
		return "", false, nil
	}
	return strings.TrimSpace(sb.String()), true, nil
}

// ParseRequest reads a request line, headers and body from r.
// Protocol violations are returned as *httpError.
func ParseRequest(r *bufio.Reader, limits Limits) (*Request, error) {
	line, ok, err := readLine(r, limits.RequestLineBytes)
	if err != nil {
		return nil, err
	}
	if !ok || line == "" {
		return nil, badRequest("Missing request line")
	}

	parts := strings.Split(line, " ")
	if len(parts) < 2 {
		return nil, badRequest("Malformed request line")
	}

	req := &Request{
		Method:  strings.TrimSpace(parts[0]),
		Path:    strings.TrimSpace(parts[1]),
		Headers: make(map[string]string),
	}

	count := 0
	for {
		line, ok, err := readLine(r, limits.HeaderLineBytes)
		if err != nil {
			return nil, err
		}
		if !ok || line == "" {
			break
		}
		count++
		if count > limits.MaxHeaders {
			return nil, badRequest("Too many headers")
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		req.Headers[key] = strings.TrimSpace(line[idx+1:])
	}

	length := 0
	if v, ok := req.Headers["content-length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, badRequest("Invalid content length")
		}
		length = n
	}
	if length < 0 {
		return nil, badRequest("Invalid content length")
	}
	if length > limits.MaxBodyBytes {
		return nil, tooLarge("Request body too large")
	}

	if length > 0 {
		body := make([]byte, length)
		n, err := io.ReadFull(r, body)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n != length {
			return nil, badRequest("Incomplete request body")
		}
		req.Body = body
	}

	return req, nil
}
