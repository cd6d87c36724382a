package infra

import (
	"regexp"
	"strings"
)

var (
	apkPathPattern     = regexp.MustCompile(`/[\w/.-]+\.apk`)
	packageNamePattern = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)+`)
)

// MaskSensitive hides APK paths and dotted package names in a command line
// before it is logged.
func MaskSensitive(command string) string {
	masked := apkPathPattern.ReplaceAllString(command, "<apk>")
	return packageNamePattern.ReplaceAllString(masked, "<package>")
}

// ShellEscape single-quotes arg for sh. Embedded quotes become '"'"'.
func ShellEscape(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// BuildShellCommand escapes and joins args into one sh command line.
func BuildShellCommand(args ...string) string {
	escaped := make([]string, len(args))
	for i, a := range args {
		escaped[i] = ShellEscape(a)
	}
	return strings.Join(escaped, " ")
}

// ParsePackageList extracts names from `pm list packages` output.
func ParsePackageList(output string) []string {
	var packages []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "package:"); ok && name != "" {
			packages = append(packages, name)
		}
	}
	return packages
}

// isPackageManagerSuccess matches the pm tool's success marker.
func isPackageManagerSuccess(output string) bool {
	return strings.Contains(output, "Success") || strings.Contains(output, "success")
}
