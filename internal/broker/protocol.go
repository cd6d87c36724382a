// Package broker defines the JSON-lines protocol spoken between the daemon
// and an out-of-process privilege broker, plus a server for it.
//
// Each call is one connection: the client writes a single Request line and
// reads a single Response line.
package broker

// Protocol version reported by servers in this package.
const ProtocolVersion = 13

// Operation names.
const (
	OpPing              = "ping"
	OpVersion           = "version"
	OpUID               = "uid"
	OpCheckPermission   = "check_permission"
	OpRationale         = "rationale"
	OpRequestPermission = "request_permission"
	OpExec              = "exec"
)

// Request is one client call.
type Request struct {
	Op          string   `json:"op"`
	RequestCode int      `json:"requestCode,omitempty"`
	Argv        []string `json:"argv,omitempty"`
}

// Response is the server reply. Fields not relevant to Op are zero.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Version   int  `json:"version,omitempty"`
	UID       int  `json:"uid"`
	Granted   bool `json:"granted,omitempty"`
	Rationale bool `json:"rationale,omitempty"`

	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	ExitCode    int    `json:"exitCode,omitempty"`
	Unsupported bool   `json:"unsupported,omitempty"`
}

// Failure builds an error response.
func Failure(msg string) Response {
	return Response{OK: false, Error: msg}
}
