package gateway

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/tooie/internal/infra"
)

// cliTemplate is the `tooie` shell wrapper. It reads the token and endpoint
// files on every call so a rotated token is picked up immediately.
const cliTemplate = `#!{{.Shell}}
set -eu
TOOIE_DIR="$HOME/.tooie"
TOKEN_FILE="$TOOIE_DIR/token"
ENDPOINT_FILE="$TOOIE_DIR/endpoint"
if [ ! -r "$TOKEN_FILE" ] || [ ! -r "$ENDPOINT_FILE" ]; then
  echo "tooie: missing $TOKEN_FILE or $ENDPOINT_FILE" >&2
  exit 1
fi
TOKEN=$(cat "$TOKEN_FILE")
BASE=$(cat "$ENDPOINT_FILE")
CURL_COMMON="-fsS --connect-timeout 2 --max-time 10"
cmd="${1:-status}"
shift || true
json_escape() { printf '%s' "$1" | sed 's/\\/\\\\/g; s/"/\\"/g'; }
case "$cmd" in
  status)
    curl $CURL_COMMON -H "Authorization: Bearer $TOKEN" "$BASE/v1/status"
    ;;
  apps)
    curl $CURL_COMMON -H "Authorization: Bearer $TOKEN" "$BASE/v1/apps"
    ;;
  resources)
    curl $CURL_COMMON -H "Authorization: Bearer $TOKEN" "$BASE/v1/system/resources"
    ;;
  media)
    curl $CURL_COMMON -H "Authorization: Bearer $TOKEN" "$BASE/v1/media/now-playing"
    ;;
  art)
    curl $CURL_COMMON -H "Authorization: Bearer $TOKEN" "$BASE/v1/media/art"
    ;;
  notifications)
    curl $CURL_COMMON -H "Authorization: Bearer $TOKEN" "$BASE/v1/notifications"
    ;;
  brightness)
    if [ "$#" -gt 0 ]; then
      curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" -H "Content-Type: application/json" \
        --data "{\"brightness\":$1}" "$BASE/v1/system/brightness"
    else
      curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" "$BASE/v1/system/brightness"
    fi
    ;;
  volume)
    if [ "$#" -gt 1 ]; then
      curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" -H "Content-Type: application/json" \
        --data "{\"volume\":$1,\"stream\":$2}" "$BASE/v1/system/volume"
    elif [ "$#" -gt 0 ]; then
      curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" -H "Content-Type: application/json" \
        --data "{\"volume\":$1}" "$BASE/v1/system/volume"
    else
      curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" "$BASE/v1/system/volume"
    fi
    ;;
  exec)
    [ "$#" -gt 0 ] || { echo "usage: tooie exec <command>" >&2; exit 2; }
    CMD_ESCAPED=$(json_escape "$*")
    curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" -H "Content-Type: application/json" \
      --data "{\"command\":\"$CMD_ESCAPED\"}" "$BASE/v1/exec"
    ;;
  permission)
    curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" "$BASE/v1/privileged/request-permission"
    ;;
  lock)
    curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" "$BASE/v1/screen/lock"
    ;;
  token)
    sub="${1:-}"; shift || true
    [ "$sub" = "rotate" ] || { echo "usage: tooie token rotate" >&2; exit 2; }
    curl $CURL_COMMON -X POST -H "Authorization: Bearer $TOKEN" "$BASE/v1/auth/rotate"
    ;;
  *)
    echo "usage: tooie {status|apps|resources|media|art|notifications|brightness [value]|volume [value] [stream]|exec|permission|lock|token rotate}" >&2
    exit 2
    ;;
esac
`

type cliConfig struct {
	Shell string
}

// CLIInstaller writes the `tooie` wrapper into $PREFIX/bin.
type CLIInstaller struct {
	path  string
	shell string
}

// NewCLIInstaller creates an installer for the script at path. The
// interpreter is $PREFIX/bin/sh.
func NewCLIInstaller(path, prefix string) *CLIInstaller {
	return &CLIInstaller{path: path, shell: filepath.Join(prefix, "bin", "sh")}
}

// Path returns where the script is installed.
func (c *CLIInstaller) Path() string {
	return c.path
}

// Content renders the script.
func (c *CLIInstaller) Content() ([]byte, error) {
	tmpl, err := template.New("cli").Parse(cliTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cli template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cliConfig{Shell: c.shell}); err != nil {
		return nil, fmt.Errorf("failed to execute cli template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the script with mode 0755.
func (c *CLIInstaller) Install() error {
	content, err := c.Content()
	if err != nil {
		return err
	}
	if err := infra.WriteExecutable(c.path, content); err != nil {
		return fmt.Errorf("failed to install cli: %w", err)
	}
	return nil
}

// IsInstalled checks if the script exists.
func (c *CLIInstaller) IsInstalled() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// NeedsUpdate reports whether an installed script differs from the
// current template.
func (c *CLIInstaller) NeedsUpdate() bool {
	if !c.IsInstalled() {
		return false
	}

	current, err := os.ReadFile(c.path)
	if err != nil {
		return true
	}
	expected, err := c.Content()
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Uninstall removes the script.
func (c *CLIInstaller) Uninstall() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
